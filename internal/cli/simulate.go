package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/roach88/swirl/internal/config"
	"github.com/roach88/swirl/internal/consensus"
	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/platform"
	"github.com/roach88/swirl/internal/sim"
)

// Simulation parameters not recorded in the journal. A replay regenerates
// the same events only while these stay fixed.
const (
	simTransactionsPerEvent   = 2
	simSystemTransactionEvery = 4
)

// simulation runs a simulated network through a node's pipeline.
type simulation struct {
	Config *config.Config
	Seed   uint64
	Events int

	// Lag reorders delivery by up to Lag positions. Zero delivers in
	// creation order.
	Lag int
}

type simulationResult struct {
	Rounds      []hashgraph.ConsensusRound
	Stale       int
	Resubmitted int64
	Dropped     float64
}

// countingPool accepts every resubmitted transaction.
type countingPool struct {
	accepted atomic.Int64
}

func (p *countingPool) SubmitSystemTransaction(tx hashgraph.Transaction) bool {
	p.accepted.Add(1)
	slog.Debug("system transaction resubmitted", "tx_id", tx.ID)
	return true
}

// simulate plays s. The simulated network has one node per roster entry,
// with the roster's weights; node i of the simulation stands for roster
// entry i, so the pipeline runs as the simulated node at self's index.
// Events are born in the round the network had pending when they were
// created, as decided by a reference engine with the node's parameters.
func simulate(ctx context.Context, s simulation) (*simulationResult, error) {
	roster := s.Config.Roster
	self, ok := roster.Index(s.Config.Platform.SelfID)
	if !ok {
		return nil, fmt.Errorf("self_id %d is not in the roster", s.Config.Platform.SelfID)
	}
	weights := make([]int64, roster.Len())
	for i, e := range roster.Entries() {
		weights[i] = e.Weight
	}
	simulator, err := sim.New(sim.Config{
		Nodes:                  roster.Len(),
		Seed:                   s.Seed,
		Weights:                weights,
		TransactionsPerEvent:   simTransactionsPerEvent,
		SystemTransactionEvery: simSystemTransactionEvery,
	})
	if err != nil {
		return nil, err
	}

	pc := s.Config.Platform
	pc.SelfID = hashgraph.NodeID(self)
	pool := &countingPool{}
	reg := prometheus.NewRegistry()
	p, err := platform.New(pc, simulator.Roster(), pool, platform.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		res simulationResult
	)
	p.Rounds().SolderToFunc(func(r hashgraph.ConsensusRound) {
		mu.Lock()
		defer mu.Unlock()
		res.Rounds = append(res.Rounds, r)
		slog.Debug("round decided", "round", r.RoundNumber, "events", len(r.ConsensusEvents))
	})
	p.StaleEvents().SolderToFunc(func(stale []*hashgraph.GossipEvent) {
		mu.Lock()
		defer mu.Unlock()
		res.Stale += len(stale)
	})
	if h := p.Health(); h != nil {
		h.SolderToFunc(func(h platform.Health) {
			slog.Info("pipeline health", "backlog", h.Backlog())
		})
	}

	if err := p.Start(); err != nil {
		return nil, err
	}
	defer p.Stop()
	if err := p.SetInitialEventWindow(hashgraph.GenesisEventWindow(pc.Consensus.AncientMode)); err != nil {
		return nil, err
	}

	decider, err := consensus.New(simulator.Roster(), pc.Consensus)
	if err != nil {
		return nil, err
	}
	events, _, err := simulator.GenerateDecided(s.Events, decider)
	if err != nil {
		return nil, err
	}
	if s.Lag > 0 {
		events = sim.Shuffle(events, s.Seed, s.Lag)
	}
	for i, e := range events {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := p.AddEvent(e); err != nil {
			return nil, err
		}
	}
	if err := p.Flush(); err != nil {
		return nil, err
	}

	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	res.Resubmitted = pool.accepted.Load()
	for _, mf := range families {
		if mf.GetName() == "swirl_intake_dropped_events_total" {
			res.Dropped = counterTotal(mf)
		}
	}
	return &res, nil
}

func counterTotal(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}
