// Package platform wires event intake, consensus and stale-event handling
// into one running pipeline.
package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/swirl/internal/consensus"
	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/intake"
	"github.com/roach88/swirl/internal/orphan"
	"github.com/roach88/swirl/internal/stale"
	"github.com/roach88/swirl/internal/window"
	"github.com/roach88/swirl/internal/wiring"
)

type options struct {
	registerer  prometheus.Registerer
	verifier    intake.Verifier
	parallelism int
	fatal       func(error)
}

// Option configures a Pipeline.
type Option func(*options)

// WithRegisterer registers scheduler, intake and stale metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithVerifier replaces the ed25519 signature verifier.
func WithVerifier(v intake.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithParallelism bounds the shared worker pool.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithFatalHandler is called when a stage configured as fatal fails.
func WithFatalHandler(f func(error)) Option {
	return func(o *options) { o.fatal = f }
}

// queuedStage is a scheduler built by stage: flushable and squelchable.
type queuedStage interface {
	Name() string
	Flush() error
	UnhandledTaskCount() int64
	StartSquelching() error
	StopSquelching() error
}

// Pipeline is a node's event pipeline:
//
//	hasher -> internal_validator -> deduplicator -> signature_validator
//	  -> orphan_buffer -> consensus -> event_window_manager
//
// with the stale detector and transaction resubmitter fed by consensus
// rounds and windows. Event windows flow back to the intake stages by
// injection, so they are never held up by a full queue.
type Pipeline struct {
	cfg   Config
	model *wiring.Model

	events     *wiring.InputWire[*hashgraph.GossipEvent, *hashgraph.GossipEvent]
	initial    *wiring.InputWire[hashgraph.EventWindow, hashgraph.EventWindow]
	snapshots  *wiring.InputWire[hashgraph.ConsensusSnapshot, []hashgraph.ConsensusRound]
	rounds     *wiring.OutputWire[hashgraph.ConsensusRound]
	windows    *wiring.OutputWire[hashgraph.EventWindow]
	staleOut   *wiring.OutputWire[[]*hashgraph.GossipEvent]
	resubmits  *wiring.OutputWire[[]hashgraph.Transaction]
	health     *wiring.OutputWire[Health]
	flushOrder []queuedStage

	// clears reset per-event intake state on reconnect, each on the
	// scheduler that owns that state.
	clears []*wiring.InputWire[hashgraph.EventWindow, []*hashgraph.GossipEvent]
	clearDedup *wiring.InputWire[hashgraph.EventWindow, *hashgraph.GossipEvent]

	windowSet atomic.Bool

	// managerMu serialises the window manager, which runs directly on
	// whichever goroutine delivers a round or an initial window.
	managerMu sync.Mutex
	manager   *window.Manager
}

// New builds the pipeline for cfg. Pool receives resubmitted system
// transactions.
func New(cfg Config, roster *hashgraph.Roster, pool stale.TransactionPool, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if roster == nil || pool == nil {
		return nil, errors.New("platform: roster and transaction pool are required")
	}
	o := options{verifier: intake.Ed25519Verifier{}}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		intakeMetrics *intake.Metrics
		staleMetrics  *stale.Metrics
		err           error
	)
	modelOpts := []wiring.ModelOption{wiring.WithParallelism(o.parallelism)}
	if o.registerer != nil {
		modelOpts = append(modelOpts, wiring.WithRegisterer(o.registerer))
		if intakeMetrics, err = intake.NewMetrics(o.registerer); err != nil {
			return nil, fmt.Errorf("platform: %w", err)
		}
		if staleMetrics, err = stale.NewMetrics(o.registerer); err != nil {
			return nil, fmt.Errorf("platform: %w", err)
		}
	}
	if o.fatal != nil {
		modelOpts = append(modelOpts, wiring.WithFatalHandler(o.fatal))
	}

	engine, err := consensus.New(roster, cfg.Consensus)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	manager, err := window.NewManager(cfg.RoundsExpired)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	sigs, err := intake.NewSignatureValidator(roster, o.verifier, cfg.SignatureCacheSize, intakeMetrics)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		model:   wiring.NewModel("swirl", modelOpts...),
		manager: manager,
	}
	if err := p.build(engine, sigs, intakeMetrics, staleMetrics, pool, o.registerer != nil); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if err := p.model.Validate(); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	return p, nil
}

func (p *Pipeline) build(
	engine *consensus.Engine,
	sigs *intake.SignatureValidator,
	intakeMetrics *intake.Metrics,
	staleMetrics *stale.Metrics,
	pool stale.TransactionPool,
	metrics bool,
) error {
	cfg := p.cfg
	b := &builder{p: p, metrics: metrics}

	hasher := intake.NewHasher()
	validator := intake.NewInternalValidator(cfg.Limits, intakeMetrics)
	dedup := intake.NewDeduplicator(intakeMetrics)
	buffer := orphan.NewBuffer()
	detector := stale.NewDetector(cfg.SelfID, staleMetrics)
	resubmitter := stale.NewResubmitter(pool, cfg.MaxSignatureResubmitAge, staleMetrics)

	// Intake.
	hashS, err := stage[*hashgraph.GossipEvent](b, "hasher", cfg.Stages.Hasher)
	if err != nil {
		return err
	}
	p.events = wiring.NewInputWire[*hashgraph.GossipEvent, *hashgraph.GossipEvent](hashS, "events").
		Bind(skipNil(hasher.Hash))

	validS, err := stage[*hashgraph.GossipEvent](b, "internal_validator", cfg.Stages.Validator)
	if err != nil {
		return err
	}
	hashS.Output().SolderTo(wiring.NewInputWire[*hashgraph.GossipEvent, *hashgraph.GossipEvent](validS, "events").
		Bind(skipNil(validator.Validate)), wiring.SolderPut)

	dedupS, err := stage[*hashgraph.GossipEvent](b, "deduplicator", cfg.Stages.Deduplicator)
	if err != nil {
		return err
	}
	validS.Output().SolderTo(wiring.NewInputWire[*hashgraph.GossipEvent, *hashgraph.GossipEvent](dedupS, "events").
		Bind(skipNil(dedup.HandleEvent)), wiring.SolderPut)
	dedupWindows := wiring.NewInputWire[hashgraph.EventWindow, *hashgraph.GossipEvent](dedupS, "windows").
		BindConsumer(func(w hashgraph.EventWindow) error {
			dedup.SetEventWindow(w)
			return nil
		})
	p.clearDedup = wiring.NewInputWire[hashgraph.EventWindow, *hashgraph.GossipEvent](dedupS, "clear").
		BindConsumer(func(w hashgraph.EventWindow) error {
			dedup.Clear(w)
			return nil
		})

	sigS, err := stage[*hashgraph.GossipEvent](b, "signature_validator", cfg.Stages.SignatureValidator)
	if err != nil {
		return err
	}
	dedupS.Output().SolderTo(wiring.NewInputWire[*hashgraph.GossipEvent, *hashgraph.GossipEvent](sigS, "events").
		Bind(skipNil(sigs.Validate)), wiring.SolderPut)

	// Orphan buffer.
	orphanS, err := stage[[]*hashgraph.GossipEvent](b, "orphan_buffer", cfg.Stages.OrphanBuffer)
	if err != nil {
		return err
	}
	sigS.Output().SolderTo(wiring.NewInputWire[*hashgraph.GossipEvent, []*hashgraph.GossipEvent](orphanS, "events").
		Bind(skipEmpty(buffer.HandleEvent)), wiring.SolderPut)
	orphanWindows := wiring.NewInputWire[hashgraph.EventWindow, []*hashgraph.GossipEvent](orphanS, "windows").
		Bind(skipEmpty(func(w hashgraph.EventWindow) ([]*hashgraph.GossipEvent, error) {
			return buffer.SetEventWindow(w), nil
		}))
	p.clears = append(p.clears, wiring.NewInputWire[hashgraph.EventWindow, []*hashgraph.GossipEvent](orphanS, "clear").
		BindConsumer(func(w hashgraph.EventWindow) error {
			buffer.Clear(w)
			return nil
		}))
	released, err := wiring.Split(p.model, "orphan_released", orphanS.Output(), wiring.SolderPut)
	if err != nil {
		return err
	}

	// Stale detection. Self events are soldered ahead of consensus so the
	// detector always tracks an event before any round can contain it.
	detectS, err := stage[[]*hashgraph.GossipEvent](b, "stale_detector", cfg.Stages.StaleDetector)
	if err != nil {
		return err
	}
	selfEvents, err := wiring.Filter(p.model, "self_events", released, wiring.SolderPut,
		func(e *hashgraph.GossipEvent) bool { return e.Creator() == cfg.SelfID })
	if err != nil {
		return err
	}
	selfEvents.SolderTo(wiring.NewInputWire[*hashgraph.GossipEvent, []*hashgraph.GossipEvent](detectS, "self_events").
		Bind(skipEmpty(detector.AddSelfEvent)), wiring.SolderPut)
	detectRounds := wiring.NewInputWire[hashgraph.ConsensusRound, []*hashgraph.GossipEvent](detectS, "rounds").
		BindConsumer(detector.AddConsensusRound)
	detectorReady := false
	detectWindows := wiring.NewInputWire[hashgraph.EventWindow, []*hashgraph.GossipEvent](detectS, "windows").
		Bind(skipEmpty(func(w hashgraph.EventWindow) ([]*hashgraph.GossipEvent, error) {
			if !detectorReady {
				detector.SetInitialEventWindow(w)
				detectorReady = true
				return nil, nil
			}
			return detector.SetEventWindow(w)
		}))
	p.clears = append(p.clears, wiring.NewInputWire[hashgraph.EventWindow, []*hashgraph.GossipEvent](detectS, "clear").
		BindConsumer(func(w hashgraph.EventWindow) error {
			detector.Clear(w)
			detectorReady = true
			return nil
		}))

	// Consensus.
	consS, err := stage[[]hashgraph.ConsensusRound](b, "consensus", cfg.Stages.Consensus)
	if err != nil {
		return err
	}
	released.SolderTo(wiring.NewInputWire[*hashgraph.GossipEvent, []hashgraph.ConsensusRound](consS, "events").
		Bind(skipEmpty(engine.AddEvent)), wiring.SolderPut)
	p.snapshots = wiring.NewInputWire[hashgraph.ConsensusSnapshot, []hashgraph.ConsensusRound](consS, "snapshots").
		BindConsumer(func(s hashgraph.ConsensusSnapshot) error {
			engine.LoadSnapshot(s)
			return nil
		})
	p.rounds, err = wiring.Split(p.model, "consensus_rounds", consS.Output(), wiring.SolderPut)
	if err != nil {
		return err
	}
	p.rounds.SolderTo(detectRounds, wiring.SolderPut)

	// Event window manager.
	winS, err := wiring.NewScheduler[hashgraph.EventWindow](p.model, "event_window_manager", wiring.Direct)
	if err != nil {
		return err
	}
	p.rounds.SolderTo(wiring.NewInputWire[hashgraph.ConsensusRound, hashgraph.EventWindow](winS, "rounds").
		Bind(p.addRound), wiring.SolderPut)
	p.initial = wiring.NewInputWire[hashgraph.EventWindow, hashgraph.EventWindow](winS, "initial").
		Bind(p.setInitial)
	p.windows = winS.Output()
	p.windows.SolderTo(dedupWindows, wiring.SolderInject)
	p.windows.SolderToFunc(sigs.SetEventWindow)
	p.windows.SolderTo(orphanWindows, wiring.SolderInject)
	p.windows.SolderTo(detectWindows, wiring.SolderInject)

	// Resubmission.
	resubS, err := stage[[]hashgraph.Transaction](b, "transaction_resubmitter",
		StageConfig{Type: wiring.Sequential, Capacity: cfg.Stages.StaleDetector.Capacity})
	if err != nil {
		return err
	}
	detectS.Output().SolderTo(wiring.NewInputWire[[]*hashgraph.GossipEvent, []hashgraph.Transaction](resubS, "stale_events").
		Bind(skipEmpty(func(events []*hashgraph.GossipEvent) ([]hashgraph.Transaction, error) {
			var txs []hashgraph.Transaction
			for _, e := range events {
				txs = append(txs, resubmitter.Resubmit(e)...)
			}
			return txs, nil
		})), wiring.SolderPut)
	p.windows.SolderTo(wiring.NewInputWire[hashgraph.EventWindow, []hashgraph.Transaction](resubS, "windows").
		BindConsumer(func(w hashgraph.EventWindow) error {
			resubmitter.SetEventWindow(w)
			return nil
		}), wiring.SolderInject)
	p.staleOut = detectS.Output()
	p.resubmits = resubS.Output()

	if cfg.HeartbeatPeriod > 0 {
		return p.buildHealth(cfg.HeartbeatPeriod)
	}
	return nil
}

// builder creates the queued stages and remembers their flush order.
type builder struct {
	p       *Pipeline
	metrics bool
}

func stage[OUT any](b *builder, name string, sc StageConfig) (*wiring.Scheduler[OUT], error) {
	opts := []wiring.Option{
		wiring.WithSleepDuration(b.p.cfg.BackpressureSleep),
		wiring.WithFlushing(),
		wiring.WithSquelching(),
	}
	if sc.Capacity != 0 {
		opts = append(opts, wiring.WithUnhandledTaskCapacity(sc.Capacity))
	}
	if b.metrics {
		opts = append(opts, wiring.WithUnhandledTaskMetric(), wiring.WithBusyFractionMetric())
	}
	s, err := wiring.NewScheduler[OUT](b.p.model, name, sc.Type, opts...)
	if err != nil {
		return nil, err
	}
	b.p.flushOrder = append(b.p.flushOrder, s)
	return s, nil
}

// skipNil adapts a stage that returns nil to drop an event.
func skipNil[IN, OUT any](f func(IN) (*OUT, error)) func(IN) (*OUT, error) {
	return func(v IN) (*OUT, error) {
		out, err := f(v)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, wiring.ErrSkip
		}
		return out, nil
	}
}

// skipEmpty adapts a stage whose empty result means "nothing to forward".
func skipEmpty[IN, OUT any](f func(IN) ([]OUT, error)) func(IN) ([]OUT, error) {
	return func(v IN) ([]OUT, error) {
		out, err := f(v)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, wiring.ErrSkip
		}
		return out, nil
	}
}

func (p *Pipeline) addRound(r hashgraph.ConsensusRound) (hashgraph.EventWindow, error) {
	p.managerMu.Lock()
	defer p.managerMu.Unlock()
	return p.manager.AddConsensusRound(r)
}

func (p *Pipeline) setInitial(w hashgraph.EventWindow) (hashgraph.EventWindow, error) {
	p.managerMu.Lock()
	defer p.managerMu.Unlock()
	p.manager.SetInitial(w)
	return w, nil
}

// Start starts every stage.
func (p *Pipeline) Start() error {
	if err := p.model.Start(); err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	return nil
}

// Stop stops every stage, letting queued events drain.
func (p *Pipeline) Stop() {
	p.model.Stop()
}

// SetInitialEventWindow installs the starting window on every stage. It
// must be called before the first AddEvent.
func (p *Pipeline) SetInitialEventWindow(w hashgraph.EventWindow) error {
	if w.AncientMode != p.cfg.Consensus.AncientMode {
		return fmt.Errorf("initial window uses %s, pipeline uses %s", w.AncientMode, p.cfg.Consensus.AncientMode)
	}
	if !p.initial.Inject(w) {
		return fmt.Errorf("set initial event window: %w", wiring.ErrNotRunning)
	}
	p.windowSet.Store(true)
	slog.Info("initial event window set", "window", w.String())
	return nil
}

// AddEvent submits e for intake. It blocks while the hasher is at capacity.
func (p *Pipeline) AddEvent(e *hashgraph.GossipEvent) error {
	if !p.windowSet.Load() {
		return fmt.Errorf("add event: %w", hashgraph.ErrNoEventWindow)
	}
	if !p.events.Put(e) {
		return fmt.Errorf("add event: %w", wiring.ErrNotRunning)
	}
	return nil
}

// OutOfBandSnapshotUpdate restarts the pipeline from s, for reconnects.
// Queued work is discarded, the deduplicator, orphan buffer and stale
// detector forget every event, consensus restarts from s and the window
// that follows s is installed everywhere. Events from s onward may then be
// delivered again, including ones the node had already seen.
func (p *Pipeline) OutOfBandSnapshotUpdate(s hashgraph.ConsensusSnapshot) error {
	if err := p.quiesce(); err != nil {
		return fmt.Errorf("snapshot update: %w", err)
	}
	w := window.FromSnapshot(s, p.cfg.Consensus.AncientMode)
	ok := p.clearDedup.Inject(w)
	for _, c := range p.clears {
		ok = c.Inject(w) && ok
	}
	if !ok || !p.snapshots.Inject(s) {
		return fmt.Errorf("snapshot update: %w", wiring.ErrNotRunning)
	}
	slog.Info("reconnecting from snapshot",
		"round", s.Round,
		"ancient_threshold", w.AncientThreshold,
	)
	return p.SetInitialEventWindow(w)
}

// quiesce squelches every queued stage until all of them are empty, so
// nothing submitted before the call reaches a handler.
func (p *Pipeline) quiesce() error {
	for _, s := range p.flushOrder {
		if err := s.StartSquelching(); err != nil {
			return err
		}
	}
	err := p.Flush()
	for _, s := range p.flushOrder {
		// Every stage was built squelchable, so this cannot fail.
		_ = s.StopSquelching()
	}
	return err
}

// Flush waits until every event submitted so far has been fully processed,
// including the work that the rounds it produced caused upstream.
func (p *Pipeline) Flush() error {
	for {
		for _, s := range p.flushOrder {
			if err := s.Flush(); err != nil {
				return err
			}
		}
		idle := true
		for _, s := range p.flushOrder {
			if s.UnhandledTaskCount() > 0 {
				idle = false
				break
			}
		}
		if idle {
			return nil
		}
	}
}

// Rounds carries every decided round, in order. Solder consumers before
// Start.
func (p *Pipeline) Rounds() *wiring.OutputWire[hashgraph.ConsensusRound] { return p.rounds }

// EventWindows carries every new event window.
func (p *Pipeline) EventWindows() *wiring.OutputWire[hashgraph.EventWindow] { return p.windows }

// StaleEvents carries self events that went stale.
func (p *Pipeline) StaleEvents() *wiring.OutputWire[[]*hashgraph.GossipEvent] { return p.staleOut }

// Resubmitted carries the transactions the pool accepted back.
func (p *Pipeline) Resubmitted() *wiring.OutputWire[[]hashgraph.Transaction] { return p.resubmits }

// Health carries periodic health reports, or nil when heartbeats are
// disabled.
func (p *Pipeline) Health() *wiring.OutputWire[Health] { return p.health }

// Model exposes the underlying wiring model.
func (p *Pipeline) Model() *wiring.Model { return p.model }
