package intake

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/swirl/internal/hashgraph"
)

const stageSignature = "signature_validator"

// Verifier checks a signature over an event hash.
type Verifier interface {
	Verify(key ed25519.PublicKey, message, sig []byte) bool
}

// Ed25519Verifier verifies ed25519 signatures.
type Ed25519Verifier struct{}

// Verify implements Verifier.
func (Ed25519Verifier) Verify(key ed25519.PublicKey, message, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(key, message, sig)
}

// SignatureValidator drops events from creators outside the roster and
// events whose signature does not verify against the creator's key.
//
// Safe for concurrent use: the window is swapped atomically and the cache
// is internally locked.
type SignatureValidator struct {
	roster   *hashgraph.Roster
	verifier Verifier
	cache    *lru.Cache
	window   atomic.Pointer[hashgraph.EventWindow]
	metrics  *Metrics
}

// NewSignatureValidator returns a validator. cacheSize bounds the number of
// remembered (hash, signature) pairs that already verified; zero disables
// the cache.
func NewSignatureValidator(roster *hashgraph.Roster, verifier Verifier, cacheSize int, metrics *Metrics) (*SignatureValidator, error) {
	v := &SignatureValidator{roster: roster, verifier: verifier, metrics: metrics}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create signature cache: %w", err)
		}
		v.cache = cache
	}
	return v, nil
}

// Validate returns e if its signature verifies, nil otherwise.
func (v *SignatureValidator) Validate(e *hashgraph.GossipEvent) (*hashgraph.GossipEvent, error) {
	w := v.window.Load()
	if w == nil {
		return nil, hashgraph.ErrNoEventWindow
	}
	if w.IsAncient(e.Descriptor) {
		v.metrics.drop(stageSignature, ReasonAncient)
		return nil, nil
	}

	key, ok := v.roster.PublicKey(e.Creator())
	if !ok {
		v.metrics.drop(stageSignature, ReasonUnknownCreator)
		slog.Debug("event from unknown creator dropped", "event", e.String())
		return nil, nil
	}

	cacheKey := string(e.Descriptor.Hash[:]) + string(e.Signature)
	if v.cache != nil && v.cache.Contains(cacheKey) {
		v.metrics.cacheHit()
		return e, nil
	}

	hash := e.Hash()
	if !v.verifier.Verify(key, hash[:], e.Signature) {
		v.metrics.drop(stageSignature, ReasonBadSignature)
		slog.Warn("event with invalid signature dropped",
			"event", e.String(),
			"sender", e.SenderID,
		)
		return nil, nil
	}
	if v.cache != nil {
		v.cache.Add(cacheKey, struct{}{})
	}
	return e, nil
}

// SetEventWindow installs w.
func (v *SignatureValidator) SetEventWindow(w hashgraph.EventWindow) {
	v.window.Store(&w)
}
