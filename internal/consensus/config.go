package consensus

import (
	"cmp"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/swirl/internal/hashgraph"
)

// TieBreak orders events of one round with equal median timestamps. Every
// rule first puts lower generations first, which keeps a parent ahead of its
// child, and then compares the rule's hash key.
type TieBreak int

const (
	// TieBreakWhitened compares event hashes XORed with the XOR of the
	// round's judge signatures, so no creator can grind a favourable hash.
	TieBreakWhitened TieBreak = iota
	// TieBreakHash compares raw event hashes.
	TieBreakHash
)

// key returns the hash key of h under t for a round whose judge signatures
// XOR to whitener.
func (t TieBreak) key(h, whitener hashgraph.Hash) hashgraph.Hash {
	if t == TieBreakWhitened {
		for i := range h {
			h[i] ^= whitener[i]
		}
	}
	return h
}

// Compare orders two events whose median timestamps are equal.
func (t TieBreak) Compare(genA int64, keyA hashgraph.Hash, genB int64, keyB hashgraph.Hash) int {
	if c := cmp.Compare(genA, genB); c != 0 {
		return c
	}
	return keyA.Compare(keyB)
}

// String returns the configuration name of t.
func (t TieBreak) String() string {
	switch t {
	case TieBreakWhitened:
		return "whitened"
	case TieBreakHash:
		return "hash"
	default:
		return fmt.Sprintf("TieBreak(%d)", int(t))
	}
}

// ParseTieBreak parses "whitened" or "hash".
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "whitened", "":
		return TieBreakWhitened, nil
	case "hash":
		return TieBreakHash, nil
	default:
		return 0, fmt.Errorf("unknown tie break %q", s)
	}
}

// Fraction is a weight threshold: a weight passes when it is strictly
// greater than Numerator/Denominator of the total.
type Fraction struct {
	Numerator   int64
	Denominator int64
}

// Exceeded reports whether weight > total*Numerator/Denominator.
func (f Fraction) Exceeded(weight, total int64) bool {
	return weight*f.Denominator > total*f.Numerator
}

// Config holds the consensus parameters. Every node of a network must use
// the same values.
type Config struct {
	// RoundsNonAncient is how many decided rounds keep their events
	// non-ancient.
	RoundsNonAncient int

	// CoinFrequency makes every CoinFrequency-th voting round a coin round.
	CoinFrequency int

	Supermajority Fraction
	TieBreak      TieBreak

	// MinTimestampIncrement separates consecutive consensus timestamps.
	MinTimestampIncrement time.Duration

	AncientMode hashgraph.AncientMode
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		RoundsNonAncient:      26,
		CoinFrequency:         12,
		Supermajority:         Fraction{Numerator: 2, Denominator: 3},
		TieBreak:              TieBreakWhitened,
		MinTimestampIncrement: time.Microsecond,
		AncientMode:           hashgraph.GenerationThreshold,
	}
}

// Validate checks that the parameters are usable.
func (c Config) Validate() error {
	var errs []error
	if c.RoundsNonAncient < 1 {
		errs = append(errs, fmt.Errorf("rounds_non_ancient must be at least 1, got %d", c.RoundsNonAncient))
	}
	if c.CoinFrequency < 3 {
		errs = append(errs, fmt.Errorf("coin_frequency must be at least 3, got %d", c.CoinFrequency))
	}
	if c.Supermajority.Denominator <= 0 || c.Supermajority.Numerator <= 0 ||
		c.Supermajority.Numerator >= c.Supermajority.Denominator {
		errs = append(errs, fmt.Errorf("supermajority %d/%d must be a fraction in (0, 1)",
			c.Supermajority.Numerator, c.Supermajority.Denominator))
	} else if 2*c.Supermajority.Numerator < c.Supermajority.Denominator {
		errs = append(errs, fmt.Errorf("supermajority %d/%d must be at least 1/2",
			c.Supermajority.Numerator, c.Supermajority.Denominator))
	}
	if c.MinTimestampIncrement <= 0 {
		errs = append(errs, errors.New("min_timestamp_increment must be positive"))
	}
	return errors.Join(errs...)
}
