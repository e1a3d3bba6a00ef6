// Package stale finds self-created events that became ancient without
// reaching consensus and resubmits their system transactions.
//
// Detection is best-effort. Events created before a restart or reconnect
// are not tracked, so some stale events go unreported.
package stale
