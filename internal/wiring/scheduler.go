package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerType selects how a scheduler executes its tasks.
type SchedulerType int

const (
	// Direct runs handlers on the submitting goroutine.
	Direct SchedulerType = iota + 1
	// Sequential runs handlers one at a time, in submission order.
	Sequential
	// Concurrent runs handlers on the model's shared worker pool.
	Concurrent
)

// String returns the type name.
func (t SchedulerType) String() string {
	switch t {
	case Direct:
		return "direct"
	case Sequential:
		return "sequential"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("SchedulerType(%d)", int(t))
	}
}

// ParseSchedulerType parses "direct", "sequential" or "concurrent".
func ParseSchedulerType(s string) (SchedulerType, error) {
	switch s {
	case "direct":
		return Direct, nil
	case "sequential":
		return Sequential, nil
	case "concurrent":
		return Concurrent, nil
	default:
		return 0, fmt.Errorf("unknown scheduler type %q", s)
	}
}

// DefaultSleepDuration is how long a blocked submitter sleeps between
// attempts to on-ramp onto a full scheduler.
const DefaultSleepDuration = 100 * time.Nanosecond

// ErrorHandler receives failures raised by a scheduler's handlers. The error
// is always a *TaskError.
type ErrorHandler func(err error)

// LogAndContinue logs the failure and drops the task.
func LogAndContinue(err error) {
	var te *TaskError
	if errors.As(err, &te) {
		slog.Error("scheduler task failed",
			"scheduler", te.Scheduler,
			"error", te.Err,
		)
		return
	}
	slog.Error("scheduler task failed", "error", err)
}

// Option configures a scheduler.
type Option func(*schedulerCore)

// WithUnhandledTaskCapacity limits the number of unhandled tasks. Zero means
// unlimited. Ignored by direct schedulers.
func WithUnhandledTaskCapacity(capacity int64) Option {
	return func(s *schedulerCore) {
		s.capacity = capacity
	}
}

// WithExternalBackPressure makes submitters block on counter instead of the
// scheduler's own capacity. Several schedulers can share one counter.
func WithExternalBackPressure(counter ObjectCounter) Option {
	return func(s *schedulerCore) {
		s.external = counter
	}
}

// WithSleepDuration sets the backpressure poll interval.
func WithSleepDuration(d time.Duration) Option {
	return func(s *schedulerCore) {
		s.sleep = d
	}
}

// WithFlushing enables Flush and makes Stop wait for queued tasks.
func WithFlushing() Option {
	return func(s *schedulerCore) {
		s.flushing = true
	}
}

// WithSquelching enables StartSquelching and StopSquelching.
func WithSquelching() Option {
	return func(s *schedulerCore) {
		s.squelchable = true
	}
}

// WithUnhandledTaskMetric registers an unhandled_tasks gauge.
func WithUnhandledTaskMetric() Option {
	return func(s *schedulerCore) {
		s.unhandledMetric = true
	}
}

// WithBusyFractionMetric registers a busy_fraction gauge.
func WithBusyFractionMetric() Option {
	return func(s *schedulerCore) {
		s.busyMetric = true
	}
}

// WithErrorHandler replaces LogAndContinue.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *schedulerCore) {
		s.onError = h
	}
}

// WithFatalErrors routes handler failures to the model's fatal handler.
func WithFatalErrors() Option {
	return func(s *schedulerCore) {
		s.fatal = true
	}
}

// schedulerCore holds everything about a scheduler that does not depend on
// its output type.
type schedulerCore struct {
	model *Model
	name  string
	typ   SchedulerType

	capacity        int64
	external        ObjectCounter
	sleep           time.Duration
	flushing        bool
	squelchable     bool
	unhandledMetric bool
	busyMetric      bool
	fatal           bool
	onError         ErrorHandler

	counter ObjectCounter // ramped by submitters
	own     ObjectCounter // this scheduler's tasks only
	busy    *busyTimer
	queue   *taskQueue

	admission sync.RWMutex
	stopped   bool
	started   bool
	inflight  sync.WaitGroup
	done      chan struct{}

	squelching atomic.Bool
	inputs     []boundChecker
}

type boundChecker interface {
	Name() string
	bound() bool
}

func newSchedulerCore(m *Model, name string, typ SchedulerType, opts []Option) (*schedulerCore, error) {
	s := &schedulerCore{
		model:   m,
		name:    name,
		typ:     typ,
		sleep:   DefaultSleepDuration,
		onError: LogAndContinue,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := validateName(name); err != nil {
		return nil, err
	}
	if typ < Direct || typ > Concurrent {
		return nil, newConfigError(ErrCodeInvalidType, name, "unknown scheduler type %d", int(typ))
	}
	if s.sleep < 0 {
		return nil, newConfigError(ErrCodeNegativeSleep, name, "backpressure sleep %s is negative", s.sleep)
	}
	if s.capacity < 0 {
		return nil, newConfigError(ErrCodeInvalidCapacity, name, "unhandled task capacity %d is negative", s.capacity)
	}

	if s.capacity > 0 && typ != Direct {
		s.own = NewBackpressureObjectCounter(name, s.capacity, s.sleep)
	} else {
		s.own = NewStandardObjectCounter(s.sleep)
	}
	s.counter = s.own
	if s.external != nil {
		s.counter = &multiCounter{primary: s.external, others: []ObjectCounter{s.own}}
	}

	parallelism := 1
	if typ == Concurrent {
		parallelism = m.parallelism
	}
	s.busy = newBusyTimer(parallelism, m.now)

	if typ == Sequential {
		s.queue = newTaskQueue()
		s.done = make(chan struct{})
	}
	return s, nil
}

func validateName(name string) error {
	if name == "" {
		return newConfigError(ErrCodeEmptyName, "", "scheduler name is empty")
	}
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return newConfigError(ErrCodeInvalidName, name, "name may only contain letters, digits and underscores")
		}
	}
	return nil
}

// blocking reports whether a Put onto this scheduler can block.
func (s *schedulerCore) blocking() bool {
	if s.external != nil {
		return true
	}
	return s.capacity > 0 && s.typ != Direct
}

// Name returns the scheduler's name.
func (s *schedulerCore) Name() string { return s.name }

// Type returns the scheduler's type.
func (s *schedulerCore) Type() SchedulerType { return s.typ }

// UnhandledTaskCount returns the number of tasks submitted and not yet
// handled.
func (s *schedulerCore) UnhandledTaskCount() int64 { return s.own.Count() }

// Flush blocks until every task submitted before the call has been handled
// and its output forwarded.
func (s *schedulerCore) Flush() error {
	if !s.flushing {
		return fmt.Errorf("%s: %w", s.name, ErrFlushingDisabled)
	}
	if s.typ == Sequential {
		s.admission.RLock()
		started := s.started
		s.admission.RUnlock()
		if !started {
			return fmt.Errorf("%s: %w", s.name, ErrNotRunning)
		}
	}
	s.own.WaitUntilEmpty()
	return nil
}

// StartSquelching discards every task instead of running its handler until
// StopSquelching is called.
func (s *schedulerCore) StartSquelching() error {
	if !s.squelchable {
		return fmt.Errorf("%s: %w", s.name, ErrSquelchingDisabled)
	}
	s.squelching.Store(true)
	return nil
}

// StopSquelching resumes normal task handling.
func (s *schedulerCore) StopSquelching() error {
	if !s.squelchable {
		return fmt.Errorf("%s: %w", s.name, ErrSquelchingDisabled)
	}
	s.squelching.Store(false)
	return nil
}

// IsSquelching reports whether tasks are currently being discarded.
func (s *schedulerCore) IsSquelching() bool { return s.squelching.Load() }

// submit admits t under the given solder semantics. It returns false if the
// task was not accepted (offer onto a full scheduler, or stopped scheduler).
func (s *schedulerCore) submit(t task, mode SolderType) bool {
	switch mode {
	case SolderInject:
		s.counter.ForceOnRamp()
	case SolderOffer:
		if !s.counter.AttemptOnRamp() {
			return false
		}
	default:
		s.counter.OnRamp()
	}

	s.admission.RLock()
	if s.stopped {
		s.admission.RUnlock()
		s.counter.OffRamp()
		slog.Debug("task rejected by stopped scheduler", "scheduler", s.name)
		return false
	}
	switch s.typ {
	case Sequential:
		s.queue.Enqueue(t)
		s.admission.RUnlock()
	case Concurrent:
		s.inflight.Add(1)
		s.admission.RUnlock()
		go func() {
			defer s.inflight.Done()
			s.processPooled(t)
		}()
	default:
		s.inflight.Add(1)
		s.admission.RUnlock()
		defer s.inflight.Done()
		s.process(t)
	}
	return true
}

func (s *schedulerCore) process(t task) {
	if emit := s.run(t); emit != nil {
		emit()
	}
	s.counter.OffRamp()
}

// processPooled holds a worker permit only while the handler runs. Output is
// forwarded after the permit is released so a pooled task blocked on a full
// downstream scheduler never starves that scheduler of workers.
func (s *schedulerCore) processPooled(t task) {
	// Acquire only fails when its context is done, and Background never is.
	// Stop does not cancel waiting tasks: a flushing stop must let them run.
	_ = s.model.pool.Acquire(context.Background(), 1)
	emit := s.run(t)
	s.model.pool.Release(1)
	if emit != nil {
		emit()
	}
	s.counter.OffRamp()
}

func (s *schedulerCore) run(t task) (emit func()) {
	if s.squelching.Load() {
		return nil
	}

	started := s.busy.start()
	defer s.busy.stop(started)
	defer func() {
		if r := recover(); r != nil {
			emit = nil
			s.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := t()
	if err != nil {
		if !errors.Is(err, ErrSkip) {
			s.fail(err)
		}
		return nil
	}
	return out
}

func (s *schedulerCore) fail(err error) {
	te := &TaskError{Scheduler: s.name, Err: err}
	if s.fatal {
		s.model.fatal(te)
		return
	}
	s.onError(te)
}

func (s *schedulerCore) start() {
	s.admission.Lock()
	s.started = true
	s.admission.Unlock()

	if s.typ == Sequential {
		go s.loop()
	}
}

func (s *schedulerCore) loop() {
	defer close(s.done)
	for {
		if t, ok := s.queue.TryDequeue(); ok {
			s.process(t)
			continue
		}
		if s.queue.Done() {
			return
		}
		<-s.queue.Wait()
	}
}

// stop halts admission, then either waits for outstanding tasks (flushing)
// or discards queued ones, and waits for running handlers to return.
func (s *schedulerCore) stop() {
	s.admission.Lock()
	s.stopped = true
	started := s.started
	s.admission.Unlock()

	if s.queue != nil {
		if s.flushing && started {
			s.own.WaitUntilEmpty()
		} else {
			dropped := s.queue.Drain()
			for range dropped {
				s.counter.OffRamp()
			}
			if len(dropped) > 0 {
				slog.Debug("discarded queued tasks on stop",
					"scheduler", s.name,
					"count", len(dropped),
				)
			}
		}
		s.queue.Close()
		if started {
			<-s.done
		}
	}
	s.inflight.Wait()
}

// Scheduler is a named execution context whose handlers produce values of
// type OUT on its single output wire.
type Scheduler[OUT any] struct {
	*schedulerCore
	out *OutputWire[OUT]
}

// NewScheduler registers a scheduler on m.
func NewScheduler[OUT any](m *Model, name string, typ SchedulerType, opts ...Option) (*Scheduler[OUT], error) {
	core, err := newSchedulerCore(m, name, typ, opts)
	if err != nil {
		m.recordBuildError(err)
		return nil, err
	}
	if err := m.register(core); err != nil {
		return nil, err
	}
	return &Scheduler[OUT]{
		schedulerCore: core,
		out:           &OutputWire[OUT]{model: m, source: name},
	}, nil
}

// Output returns the scheduler's output wire.
func (s *Scheduler[OUT]) Output() *OutputWire[OUT] {
	return s.out
}
