package harness

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/swirl/internal/consensus"
	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/orphan"
	"github.com/roach88/swirl/internal/platform"
	"github.com/roach88/swirl/internal/sim"
	"github.com/roach88/swirl/internal/testutil"
)

// defaultLag bounds how far permutations reorder events.
const defaultLag = 8

// Outcome is what one delivery of the scenario's events produced.
type Outcome struct {
	// Delivery describes the delivery order, for messages.
	Delivery string

	// Released lists event labels in output order: release order for the
	// orphan stage, consensus order otherwise.
	Released []string

	// Buffered is the number of orphans still waiting (orphan stage).
	Buffered int

	Rounds []hashgraph.ConsensusRound
}

// Result is the outcome of running a scenario.
type Result struct {
	Scenario string
	Pass     bool
	Errors   []string

	// Outcomes[0] is the scenario's own delivery; the rest are
	// permutations.
	Outcomes []Outcome

	dag *dag
}

// Baseline returns the outcome of the scenario's own delivery.
func (r *Result) Baseline() Outcome { return r.Outcomes[0] }

// dag is a scenario's events with their labels.
type dag struct {
	events  []*hashgraph.GossipEvent
	labels  map[hashgraph.Hash]string
	parents map[string][]string
	roster  *hashgraph.Roster
}

func (d *dag) label(e *hashgraph.GossipEvent) string {
	if l, ok := d.labels[e.Hash()]; ok {
		return l
	}
	return e.Hash().Short()
}

// Run executes a scenario: the baseline delivery and every permutation run
// concurrently, then the assertions are evaluated. An error means the
// scenario could not run; failed assertions are reported in the Result.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	cfg, err := consensusConfig(s.Consensus)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	d, err := buildDAG(s, cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	orders, names := deliveries(s, d)

	outcomes := make([]Outcome, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range orders {
		g.Go(func() error {
			out, err := runStage(gctx, s.Stage, cfg, d, orders[i])
			if err != nil {
				return fmt.Errorf("%s: %w", names[i], err)
			}
			out.Delivery = names[i]
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	res := &Result{Scenario: s.Name, Outcomes: outcomes, dag: d}
	for _, a := range s.Assertions {
		if msg := evaluate(a, res); msg != "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", a.Type, msg))
		}
	}
	res.Pass = len(res.Errors) == 0
	slog.Debug("scenario finished",
		"scenario", s.Name,
		"deliveries", len(outcomes),
		"pass", res.Pass,
	)
	return res, nil
}

func buildDAG(s *Scenario, cfg consensus.Config) (*dag, error) {
	d := &dag{labels: make(map[hashgraph.Hash]string), parents: make(map[string][]string)}

	if n := s.Network; n != nil {
		simulator, err := sim.New(sim.Config{
			Nodes:                n.Nodes,
			Seed:                 n.Seed,
			Weights:              n.Weights,
			TransactionsPerEvent: n.TransactionsPerEvent,
		})
		if err != nil {
			return nil, err
		}
		d.roster = simulator.Roster()
		if cfg.AncientMode == hashgraph.BirthRoundThreshold {
			decider, err := consensus.New(d.roster, cfg)
			if err != nil {
				return nil, err
			}
			if d.events, _, err = simulator.GenerateDecided(n.Events, decider); err != nil {
				return nil, err
			}
		} else {
			d.events = simulator.Generate(n.Events)
		}
		for i, e := range d.events {
			label := fmt.Sprintf("e%d", i)
			d.labels[e.Hash()] = label
			for _, p := range e.Parents() {
				d.parents[label] = append(d.parents[label], d.labels[p.Hash])
			}
		}
		return d, nil
	}

	nodes := 0
	for _, es := range s.Events {
		nodes = max(nodes, int(es.Creator)+1)
	}
	b := testutil.NewEventBuilder(nodes)
	byLabel := make(map[string]*hashgraph.GossipEvent, len(s.Events))
	for _, es := range s.Events {
		creator := hashgraph.NodeID(es.Creator)
		sp, op := byLabel[es.SelfParent], byLabel[es.OtherParent]
		if sp != nil && sp.Creator() != creator {
			return nil, fmt.Errorf("event %s: self-parent %s has another creator", es.Label, es.SelfParent)
		}
		if op != nil && op.Creator() == creator {
			return nil, fmt.Errorf("event %s: other-parent %s has the same creator", es.Label, es.OtherParent)
		}
		e := b.Unsigned(creator, sp, op)
		b.Sign(e)
		byLabel[es.Label] = e
		d.events = append(d.events, e)
		d.labels[e.Hash()] = es.Label
		for _, p := range []string{es.SelfParent, es.OtherParent} {
			if p != "" {
				d.parents[es.Label] = append(d.parents[es.Label], p)
			}
		}
	}
	d.roster = b.Roster()
	return d, nil
}

func consensusConfig(o ConsensusOverrides) (consensus.Config, error) {
	cfg := consensus.DefaultConfig()
	if o.RoundsNonAncient > 0 {
		cfg.RoundsNonAncient = o.RoundsNonAncient
	}
	if o.CoinFrequency > 0 {
		cfg.CoinFrequency = o.CoinFrequency
	}
	if o.TieBreak != "" {
		tb, err := consensus.ParseTieBreak(o.TieBreak)
		if err != nil {
			return cfg, err
		}
		cfg.TieBreak = tb
	}
	mode, err := hashgraph.ParseAncientMode(o.AncientMode)
	if err != nil {
		return cfg, err
	}
	cfg.AncientMode = mode
	return cfg, cfg.Validate()
}

// deliveries returns the baseline delivery followed by the permutations.
func deliveries(s *Scenario, d *dag) ([][]*hashgraph.GossipEvent, []string) {
	baseline := d.events
	name := "creation order"
	seed, lag := uint64(0), defaultLag

	switch {
	case len(s.Delivery.Order) > 0:
		byLabel := make(map[string]*hashgraph.GossipEvent, len(d.events))
		for _, e := range d.events {
			byLabel[d.labels[e.Hash()]] = e
		}
		baseline = make([]*hashgraph.GossipEvent, len(s.Delivery.Order))
		for i, l := range s.Delivery.Order {
			baseline[i] = byLabel[l]
		}
		name = "explicit order"
	case s.Delivery.Shuffle != nil:
		seed = s.Delivery.Shuffle.Seed
		if s.Delivery.Shuffle.Lag > 0 {
			lag = s.Delivery.Shuffle.Lag
		}
		baseline = sim.Shuffle(d.events, seed, lag)
		name = fmt.Sprintf("shuffle seed=%d lag=%d", seed, lag)
	}

	out := [][]*hashgraph.GossipEvent{baseline}
	names := []string{name}
	for i := 1; i <= s.Permutations; i++ {
		ps := seed + uint64(i)
		out = append(out, sim.Shuffle(baseline, ps, lag))
		names = append(names, fmt.Sprintf("shuffle seed=%d lag=%d", ps, lag))
	}
	return out, names
}

func runStage(ctx context.Context, stage string, cfg consensus.Config, d *dag, events []*hashgraph.GossipEvent) (Outcome, error) {
	switch stage {
	case StageOrphan:
		return runOrphan(ctx, cfg, d, events, nil)
	case StageConsensus:
		engine, err := consensus.New(d.roster, cfg)
		if err != nil {
			return Outcome{}, err
		}
		return runOrphan(ctx, cfg, d, events, engine)
	case StagePipeline:
		return runPipeline(ctx, cfg, d, events)
	}
	return Outcome{}, fmt.Errorf("unknown stage %q", stage)
}

// runOrphan feeds events through an orphan buffer and, when engine is not
// nil, feeds what it releases to consensus.
func runOrphan(ctx context.Context, cfg consensus.Config, d *dag, events []*hashgraph.GossipEvent, engine *consensus.Engine) (Outcome, error) {
	buf := orphan.NewBuffer()
	buf.SetEventWindow(hashgraph.GenesisEventWindow(cfg.AncientMode))

	var out Outcome
	for i, e := range events {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		released, err := buf.HandleEvent(e)
		if err != nil {
			return out, err
		}
		for _, r := range released {
			if engine == nil {
				out.Released = append(out.Released, d.label(r))
				continue
			}
			rounds, err := engine.AddEvent(r)
			if err != nil {
				return out, err
			}
			out.Rounds = append(out.Rounds, rounds...)
		}
	}
	out.Buffered = buf.Len()
	if engine != nil {
		out.Released = consensusOrder(d, out.Rounds)
	}
	return out, nil
}

// acceptAll is the transaction pool of pipeline scenarios.
type acceptAll struct{}

func (acceptAll) SubmitSystemTransaction(hashgraph.Transaction) bool { return true }

func runPipeline(ctx context.Context, cfg consensus.Config, d *dag, events []*hashgraph.GossipEvent) (Outcome, error) {
	pc := platform.DefaultConfig(d.roster.Entry(0).ID)
	pc.Consensus = cfg
	pc.RoundsExpired = max(pc.RoundsExpired, cfg.RoundsNonAncient)
	pc.HeartbeatPeriod = 0

	p, err := platform.New(pc, d.roster, acceptAll{})
	if err != nil {
		return Outcome{}, err
	}
	var (
		mu     sync.Mutex
		rounds []hashgraph.ConsensusRound
	)
	p.Rounds().SolderToFunc(func(r hashgraph.ConsensusRound) {
		mu.Lock()
		defer mu.Unlock()
		rounds = append(rounds, r)
	})
	if err := p.Start(); err != nil {
		return Outcome{}, err
	}
	defer p.Stop()

	if err := p.SetInitialEventWindow(hashgraph.GenesisEventWindow(cfg.AncientMode)); err != nil {
		return Outcome{}, err
	}
	for i, e := range events {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}
		}
		if err := p.AddEvent(e); err != nil {
			return Outcome{}, err
		}
	}
	if err := p.Flush(); err != nil {
		return Outcome{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	return Outcome{Rounds: rounds, Released: consensusOrder(d, rounds)}, nil
}

func consensusOrder(d *dag, rounds []hashgraph.ConsensusRound) []string {
	var out []string
	for _, r := range rounds {
		for _, ce := range r.ConsensusEvents {
			out = append(out, d.label(ce.Event))
		}
	}
	return out
}
