package platform

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/swirl/internal/consensus"
	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/intake"
	"github.com/roach88/swirl/internal/stale"
	"github.com/roach88/swirl/internal/window"
	"github.com/roach88/swirl/internal/wiring"
)

// StageConfig selects how one pipeline stage is scheduled.
type StageConfig struct {
	Type     wiring.SchedulerType
	Capacity int64
}

// Stages holds the scheduling of every queued pipeline stage.
type Stages struct {
	Hasher             StageConfig
	Validator          StageConfig
	Deduplicator       StageConfig
	SignatureValidator StageConfig
	OrphanBuffer       StageConfig
	Consensus          StageConfig
	StaleDetector      StageConfig
}

// Config describes a node's pipeline.
type Config struct {
	SelfID hashgraph.NodeID

	Consensus     consensus.Config
	RoundsExpired int

	Limits             intake.Limits
	SignatureCacheSize int

	MaxSignatureResubmitAge int64

	Stages            Stages
	BackpressureSleep time.Duration

	// HeartbeatPeriod paces health reports. Zero disables them.
	HeartbeatPeriod time.Duration
}

// DefaultConfig returns a configuration for node self. Pure per-event
// stages run on the shared pool; stages that own DAG state are sequential.
func DefaultConfig(self hashgraph.NodeID) Config {
	return Config{
		SelfID:                  self,
		Consensus:               consensus.DefaultConfig(),
		RoundsExpired:           window.DefaultRoundsExpired,
		Limits:                  intake.DefaultLimits(),
		SignatureCacheSize:      4096,
		MaxSignatureResubmitAge: stale.DefaultMaxSignatureResubmitAge,
		Stages: Stages{
			Hasher:             StageConfig{Type: wiring.Concurrent, Capacity: 500},
			Validator:          StageConfig{Type: wiring.Concurrent, Capacity: 500},
			Deduplicator:       StageConfig{Type: wiring.Sequential, Capacity: 5000},
			SignatureValidator: StageConfig{Type: wiring.Concurrent, Capacity: 500},
			OrphanBuffer:       StageConfig{Type: wiring.Sequential, Capacity: 5000},
			Consensus:          StageConfig{Type: wiring.Sequential, Capacity: 5000},
			StaleDetector:      StageConfig{Type: wiring.Sequential, Capacity: 500},
		},
		BackpressureSleep: wiring.DefaultSleepDuration,
		HeartbeatPeriod:   time.Second,
	}
}

// Validate checks the parts of the configuration the pipeline relies on.
func (c Config) Validate() error {
	var errs []error
	if err := c.Consensus.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.RoundsExpired < c.Consensus.RoundsNonAncient {
		errs = append(errs, fmt.Errorf("rounds_expired %d is below rounds_non_ancient %d",
			c.RoundsExpired, c.Consensus.RoundsNonAncient))
	}
	if c.SignatureCacheSize < 1 {
		errs = append(errs, fmt.Errorf("signature_cache_size must be positive, got %d", c.SignatureCacheSize))
	}
	if c.MaxSignatureResubmitAge < 0 {
		errs = append(errs, errors.New("max_signature_resubmit_age must not be negative"))
	}
	if c.HeartbeatPeriod < 0 {
		errs = append(errs, errors.New("heartbeat_period must not be negative"))
	}
	// Stages that own DAG state must see one task at a time.
	for _, st := range []struct {
		name string
		cfg  StageConfig
	}{
		{"deduplicator", c.Stages.Deduplicator},
		{"orphan_buffer", c.Stages.OrphanBuffer},
		{"consensus", c.Stages.Consensus},
		{"stale_detector", c.Stages.StaleDetector},
	} {
		if st.cfg.Type != wiring.Sequential {
			errs = append(errs, fmt.Errorf("stage %s must be sequential, got %s", st.name, st.cfg.Type))
		}
	}
	return errors.Join(errs...)
}
