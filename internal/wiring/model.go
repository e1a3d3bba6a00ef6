package wiring

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

type edge struct {
	from string
	to   string
	mode SolderType
}

// Model owns a graph of schedulers and their lifecycle.
//
// Build the graph (schedulers, input wires, solders, heartbeats) before
// Start. Nothing may be added after Start.
type Model struct {
	name        string
	registerer  prometheus.Registerer
	parallelism int
	pool        *semaphore.Weighted
	fatal       func(error)
	now         func() time.Time

	mu         sync.Mutex
	schedulers []*schedulerCore
	byName     map[string]*schedulerCore
	edges      []edge
	heartbeats []*heartbeat
	buildErrs  []error
	started    bool
	stopped    bool

	hbStop chan struct{}
	hbWG   sync.WaitGroup
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithRegisterer registers scheduler metrics on reg.
func WithRegisterer(reg prometheus.Registerer) ModelOption {
	return func(m *Model) {
		m.registerer = reg
	}
}

// WithParallelism bounds the number of concurrently running handlers across
// all concurrent schedulers. Default: GOMAXPROCS.
func WithParallelism(n int) ModelOption {
	return func(m *Model) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithFatalHandler replaces the default fatal handler, which panics.
func WithFatalHandler(f func(error)) ModelOption {
	return func(m *Model) {
		m.fatal = f
	}
}

// WithTimeSource sets the clock used by heartbeats and busy timers.
func WithTimeSource(now func() time.Time) ModelOption {
	return func(m *Model) {
		m.now = now
	}
}

// NewModel creates an empty model.
func NewModel(name string, opts ...ModelOption) *Model {
	m := &Model{
		name:        name,
		parallelism: runtime.GOMAXPROCS(0),
		fatal:       func(err error) { panic(err) },
		now:         time.Now,
		byName:      make(map[string]*schedulerCore),
		hbStop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pool = semaphore.NewWeighted(int64(m.parallelism))
	return m
}

// Name returns the model's name.
func (m *Model) Name() string { return m.name }

func (m *Model) register(s *schedulerCore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		err := newConfigError(ErrCodeAlreadyStarted, s.name, "cannot add a scheduler to a started model")
		m.buildErrs = append(m.buildErrs, err)
		return err
	}
	if _, dup := m.byName[s.name]; dup {
		err := newConfigError(ErrCodeDuplicateName, s.name, "scheduler name is already in use")
		m.buildErrs = append(m.buildErrs, err)
		return err
	}
	m.byName[s.name] = s
	m.schedulers = append(m.schedulers, s)
	return nil
}

func (m *Model) recordBuildError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildErrs = append(m.buildErrs, err)
}

func (m *Model) addEdge(e edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, e)
}

func (m *Model) schedulerNames() []string {
	names := make([]string, len(m.schedulers))
	for i, s := range m.schedulers {
		names[i] = s.name
	}
	return names
}

// Validate reports every build error: invalid names, duplicate schedulers,
// double binds, unbound input wires and cycles of blocking edges.
func (m *Model) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateLocked()
}

func (m *Model) validateLocked() error {
	errs := append([]error(nil), m.buildErrs...)
	for _, s := range m.schedulers {
		for _, in := range s.inputs {
			if !in.bound() {
				errs = append(errs, newConfigError(ErrCodeUnboundInput, s.name,
					"input wire %s has no handler", in.Name()))
			}
		}
	}

	blocking := func(name string) bool {
		s, ok := m.byName[name]
		return ok && s.blocking()
	}
	for _, cycle := range backpressureCycles(m.schedulerNames(), m.edges, blocking) {
		errs = append(errs, newConfigError(ErrCodeCyclicBackpressure, cycle[0],
			"cycle of put edges can deadlock: %s", formatCycle(cycle)))
	}
	return errors.Join(errs...)
}

// Start validates the model and starts every scheduler and heartbeat.
func (m *Model) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return newConfigError(ErrCodeAlreadyStarted, "", "model %s is already started", m.name)
	}
	if err := m.validateLocked(); err != nil {
		return fmt.Errorf("model %s: %w", m.name, err)
	}
	for _, s := range m.schedulers {
		if err := registerSchedulerMetrics(m.registerer, s); err != nil {
			return fmt.Errorf("model %s: %w", m.name, err)
		}
	}

	m.started = true
	for _, s := range m.schedulers {
		s.start()
	}
	for _, hb := range m.heartbeats {
		m.hbWG.Add(1)
		go hb.run(m.hbStop, &m.hbWG)
	}

	slog.Info("wiring model started",
		"model", m.name,
		"schedulers", len(m.schedulers),
		"heartbeats", len(m.heartbeats),
	)
	return nil
}

// Stop stops heartbeats, then stops schedulers upstream first. Schedulers
// with flushing enabled finish their queued tasks; others discard them.
// Stop is idempotent and a no-op on a model that never started.
func (m *Model) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	order := stopOrder(m.schedulerNames(), m.edges)
	m.mu.Unlock()

	close(m.hbStop)
	m.hbWG.Wait()

	for _, name := range order {
		m.byName[name].stop()
	}
	slog.Info("wiring model stopped", "model", m.name)
}

// Running reports whether the model has started and not yet stopped.
func (m *Model) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.stopped
}
