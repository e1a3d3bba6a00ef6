// Package config loads node configuration from CUE.
//
// A configuration file is unified with an embedded #Config schema that
// carries every default, so a file only states what differs. The result is
// checked for concreteness, decoded and converted into a platform.Config and
// a roster.
package config

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/swirl/internal/consensus"
	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/intake"
	"github.com/roach88/swirl/internal/platform"
	"github.com/roach88/swirl/internal/wiring"
)

//go:embed schema.cue
var schemaCUE string

// Error is a configuration error, with the CUE position when one is known.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	loc := ""
	if e.Pos.IsValid() {
		loc = fmt.Sprintf("%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, e.Path, e.Message)
	}
	return loc + e.Message
}

// Member is one roster entry as written in the file.
type Member struct {
	ID        uint64 `json:"id"`
	Weight    int64  `json:"weight"`
	PublicKey string `json:"public_key,omitempty"`
}

// Stage is the scheduling of one pipeline stage as written in the file.
type Stage struct {
	Type     string `json:"type"`
	Capacity int64  `json:"capacity"`
}

// File is the decoded form of a configuration file.
type File struct {
	SelfID uint64   `json:"self_id"`
	Roster []Member `json:"roster"`

	Consensus struct {
		RoundsNonAncient int `json:"rounds_non_ancient"`
		RoundsExpired    int `json:"rounds_expired"`
		CoinFrequency    int `json:"coin_frequency"`
		Supermajority    struct {
			Numerator   int64 `json:"numerator"`
			Denominator int64 `json:"denominator"`
		} `json:"supermajority"`
		TieBreak              string `json:"tie_break"`
		MinTimestampIncrement string `json:"min_timestamp_increment"`
		AncientMode           string `json:"ancient_mode"`
	} `json:"consensus"`

	Intake struct {
		Hasher             Stage  `json:"hasher"`
		Validator          Stage  `json:"validator"`
		Deduplicator       Stage  `json:"deduplicator"`
		SignatureValidator Stage  `json:"signature_validator"`
		OrphanBuffer       Stage  `json:"orphan_buffer"`
		Consensus          Stage  `json:"consensus"`
		StaleDetector      Stage  `json:"stale_detector"`
		BackpressureSleep  string `json:"backpressure_sleep"`
		SignatureCacheSize int    `json:"signature_cache_size"`
		MaxTransactions    int    `json:"max_transactions"`
		MaxPayloadBytes    int    `json:"max_payload_bytes"`
	} `json:"intake"`

	Stale struct {
		MaxSignatureResubmitAge int64 `json:"max_signature_resubmit_age"`
	} `json:"stale"`

	HeartbeatPeriod string `json:"heartbeat_period"`
}

// Config is a loaded and validated node configuration.
type Config struct {
	File     File
	Platform platform.Config
	Roster   *hashgraph.Roster

	// Fingerprint identifies the effective configuration, defaults
	// included.
	Fingerprint string
}

// LoadFile reads and loads the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Load(path, data)
}

// Load loads configuration source. Name is used in error positions.
// All configuration errors are returned together.
func Load(name string, src []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile embedded schema: %w", err)
	}
	user := ctx.CompileBytes(src, cue.Filename(name))
	if err := user.Err(); err != nil {
		return nil, convertCUEError(err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEError(err)
	}

	var f File
	if err := value.Decode(&f); err != nil {
		return nil, convertCUEError(err)
	}
	effective, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export config: %w", err)
	}
	sum := sha256.Sum256(effective)

	cfg, err := f.convert()
	if err != nil {
		return nil, err
	}
	cfg.Fingerprint = hex.EncodeToString(sum[:])
	return cfg, nil
}

// Default returns the configuration of an empty file.
func Default() (*Config, error) {
	return Load("default.cue", nil)
}

func (f File) convert() (*Config, error) {
	var errs []error
	fail := func(path, format string, args ...any) {
		errs = append(errs, &Error{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	pc := platform.DefaultConfig(hashgraph.NodeID(f.SelfID))

	c := f.Consensus
	pc.Consensus = consensus.Config{
		RoundsNonAncient: c.RoundsNonAncient,
		CoinFrequency:    c.CoinFrequency,
		Supermajority:    consensus.Fraction{Numerator: c.Supermajority.Numerator, Denominator: c.Supermajority.Denominator},
	}
	pc.RoundsExpired = c.RoundsExpired
	var err error
	if pc.Consensus.TieBreak, err = consensus.ParseTieBreak(c.TieBreak); err != nil {
		fail("consensus.tie_break", "%v", err)
	}
	if pc.Consensus.AncientMode, err = hashgraph.ParseAncientMode(c.AncientMode); err != nil {
		fail("consensus.ancient_mode", "%v", err)
	}
	if pc.Consensus.MinTimestampIncrement, err = time.ParseDuration(c.MinTimestampIncrement); err != nil {
		fail("consensus.min_timestamp_increment", "%v", err)
	}

	in := f.Intake
	stage := func(path string, s Stage) platform.StageConfig {
		typ, err := wiring.ParseSchedulerType(s.Type)
		if err != nil {
			fail("intake."+path+".type", "%v", err)
		}
		return platform.StageConfig{Type: typ, Capacity: s.Capacity}
	}
	pc.Stages = platform.Stages{
		Hasher:             stage("hasher", in.Hasher),
		Validator:          stage("validator", in.Validator),
		Deduplicator:       stage("deduplicator", in.Deduplicator),
		SignatureValidator: stage("signature_validator", in.SignatureValidator),
		OrphanBuffer:       stage("orphan_buffer", in.OrphanBuffer),
		Consensus:          stage("consensus", in.Consensus),
		StaleDetector:      stage("stale_detector", in.StaleDetector),
	}
	if pc.BackpressureSleep, err = time.ParseDuration(in.BackpressureSleep); err != nil {
		fail("intake.backpressure_sleep", "%v", err)
	}
	pc.SignatureCacheSize = in.SignatureCacheSize
	pc.Limits = intake.Limits{MaxTransactions: in.MaxTransactions, MaxPayloadBytes: in.MaxPayloadBytes}
	pc.MaxSignatureResubmitAge = f.Stale.MaxSignatureResubmitAge
	if pc.HeartbeatPeriod, err = time.ParseDuration(f.HeartbeatPeriod); err != nil {
		fail("heartbeat_period", "%v", err)
	}

	entries := make([]hashgraph.RosterEntry, len(f.Roster))
	for i, m := range f.Roster {
		entries[i] = hashgraph.RosterEntry{ID: hashgraph.NodeID(m.ID), Weight: m.Weight}
		if m.PublicKey != "" {
			key, err := hex.DecodeString(m.PublicKey)
			if err != nil {
				fail(fmt.Sprintf("roster[%d].public_key", i), "%v", err)
				continue
			}
			entries[i].PublicKey = key
		}
	}
	roster, err := hashgraph.NewRoster(entries)
	if err != nil {
		fail("roster", "%v", err)
	} else if !roster.Contains(pc.SelfID) {
		fail("self_id", "node %d is not in the roster", f.SelfID)
	}

	if len(errs) == 0 {
		if err := pc.Validate(); err != nil {
			fail("", "%v", err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Config{File: f, Platform: pc, Roster: roster}, nil
}

// convertCUEError splits a CUE error into one *Error per underlying error.
func convertCUEError(err error) error {
	var errs []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, &Error{Path: strings.Join(e.Path(), "."), Message: fmt.Sprintf(format, args...), Pos: e.Position()})
	}
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	return errors.Join(errs...)
}
