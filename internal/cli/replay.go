package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/swirl/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string
	Config   string
	Seed     uint64
}

// ReplayResult holds the outcome of replaying one run.
type ReplayResult struct {
	RunID         string            `json:"run_id"`
	Seed          uint64            `json:"seed"`
	Rounds        int               `json:"rounds"`
	Events        int               `json:"events"`
	Deterministic bool              `json:"deterministic"`
	Divergence    *store.Divergence `json:"divergence,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-simulate a journaled run and verify determinism",
		Long: `Re-simulate a journaled run in creation order and compare every decided
round, consensus order, consensus timestamp and snapshot hash with the
journal. The configuration must be the one the run used.

Exit codes:
  0 - The replay matches the journal
  1 - The replay diverged
  2 - Command error (database not found, configuration mismatch, etc.)

Examples:
  swirl replay --db ./journal.db
  swirl replay --db ./journal.db --run 0191c1b4-...
  swirl replay --db ./journal.db --seed 8 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to replay (default: latest)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the run's CUE configuration (defaults when empty)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "replay with this seed instead of the journaled one")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening would create a missing database.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := selectRun(ctx, st, opts.RunID)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if cfg.Fingerprint != run.ConfigHash {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("configuration %s differs from the one run %s used (%s)", cfg.Fingerprint, run.ID, run.ConfigHash))
	}
	if cfg.Roster.Len() != run.Nodes {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("roster has %d nodes, run %s simulated %d", cfg.Roster.Len(), run.ID, run.Nodes))
	}

	seed := run.Seed
	if cmd.Flags().Changed("seed") {
		seed = opts.Seed
	}
	slog.Info("replaying run", "run_id", run.ID, "seed", seed, "events", run.Events)
	res, err := simulate(ctx, simulation{Config: cfg, Seed: seed, Events: run.Events})
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	result := ReplayResult{RunID: run.ID, Seed: seed, Deterministic: true}
	verified, err := st.Verify(ctx, run.ID, res.Rounds)
	var divergence *store.DivergenceError
	switch {
	case errors.As(err, &divergence):
		result.Deterministic = false
		result.Divergence = &divergence.Divergence
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	default:
		result.Rounds = verified.Rounds
		result.Events = verified.Events
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		if !result.Deterministic {
			if err := formatter.Failure(ErrCodeDeterminism, divergence.Error(), result, nil); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "determinism verification failed")
		}
		return formatter.Success(result)
	}
	return outputReplayText(cmd, result)
}

// selectRun returns the run with id, or the latest run when id is empty.
// Run ids are UUIDv7, so the latest run sorts last.
func selectRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	if id != "" {
		run, err := st.ReadRun(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return run, NewExitError(ExitCommandError, fmt.Sprintf("run %s not found", id))
		}
		if err != nil {
			return run, WrapExitError(ExitCommandError, "failed to read run", err)
		}
		return run, nil
	}
	runs, err := st.ReadRuns(ctx)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	if len(runs) == 0 {
		return store.Run{}, NewExitError(ExitCommandError, "no runs journaled")
	}
	return runs[len(runs)-1], nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()
	if result.Deterministic {
		fmt.Fprintf(w, "✓ Run %s replayed deterministically\n", result.RunID)
		fmt.Fprintf(w, "  Rounds: %d, events: %d\n", result.Rounds, result.Events)
		return nil
	}

	d := result.Divergence
	fmt.Fprintf(w, "✗ Run %s diverged (seed %d)\n", result.RunID, result.Seed)
	if d.Order >= 0 {
		fmt.Fprintf(w, "  Round %d, order %d: %s\n", d.Round, d.Order, d.Reason)
	} else {
		fmt.Fprintf(w, "  Round %d: %s\n", d.Round, d.Reason)
	}
	return NewExitError(ExitFailure, "determinism verification failed")
}
