package wiring

import (
	"fmt"
	"log/slog"
)

// SolderType selects how an output wire delivers into an input wire.
type SolderType int

const (
	// SolderPut respects the target's capacity, blocking the producer.
	SolderPut SolderType = iota
	// SolderInject bypasses the target's capacity. Used for data that must
	// never be delayed by an overloaded consumer, such as event windows.
	SolderInject
	// SolderOffer drops the value when the target is at capacity.
	SolderOffer
)

// String returns the solder type name.
func (t SolderType) String() string {
	switch t {
	case SolderPut:
		return "put"
	case SolderInject:
		return "inject"
	case SolderOffer:
		return "offer"
	default:
		return fmt.Sprintf("SolderType(%d)", int(t))
	}
}

// Input is anything an OutputWire[T] can be soldered to.
type Input[T any] interface {
	Name() string
	schedulerName() string
	deliver(v T, mode SolderType) bool
}

// InputWire is a named, typed entry point into a scheduler. It must be bound
// to exactly one handler before the model starts.
type InputWire[IN, OUT any] struct {
	scheduler *Scheduler[OUT]
	name      string
	handler   func(IN) (OUT, error)
}

// NewInputWire declares an input wire on s.
func NewInputWire[IN, OUT any](s *Scheduler[OUT], name string) *InputWire[IN, OUT] {
	w := &InputWire[IN, OUT]{scheduler: s, name: name}
	if name == "" {
		s.model.recordBuildError(newConfigError(ErrCodeEmptyName, s.name, "input wire name is empty"))
	}
	s.inputs = append(s.inputs, w)
	return w
}

// Name returns the wire's name.
func (w *InputWire[IN, OUT]) Name() string { return w.name }

func (w *InputWire[IN, OUT]) schedulerName() string { return w.scheduler.name }

func (w *InputWire[IN, OUT]) bound() bool { return w.handler != nil }

// Bind sets the handler. The handler's result is forwarded on the
// scheduler's output wire unless it returns an error; return ErrSkip to
// produce no output.
func (w *InputWire[IN, OUT]) Bind(h func(IN) (OUT, error)) *InputWire[IN, OUT] {
	if w.handler != nil {
		w.scheduler.model.recordBuildError(newConfigError(ErrCodeAlreadyBound, w.scheduler.name,
			"input wire %s is already bound", w.name))
		return w
	}
	w.handler = h
	return w
}

// BindConsumer sets a handler that never produces output.
func (w *InputWire[IN, OUT]) BindConsumer(h func(IN) error) *InputWire[IN, OUT] {
	return w.Bind(func(v IN) (OUT, error) {
		var zero OUT
		if err := h(v); err != nil {
			return zero, err
		}
		return zero, ErrSkip
	})
}

// Put submits v, blocking while the scheduler is at capacity.
func (w *InputWire[IN, OUT]) Put(v IN) bool { return w.deliver(v, SolderPut) }

// Inject submits v regardless of capacity.
func (w *InputWire[IN, OUT]) Inject(v IN) bool { return w.deliver(v, SolderInject) }

// Offer submits v if the scheduler has capacity, and reports whether it did.
func (w *InputWire[IN, OUT]) Offer(v IN) bool { return w.deliver(v, SolderOffer) }

func (w *InputWire[IN, OUT]) deliver(v IN, mode SolderType) bool {
	h := w.handler
	if h == nil {
		slog.Error("value delivered to unbound input wire",
			"scheduler", w.scheduler.name,
			"wire", w.name,
		)
		return false
	}
	out := w.scheduler.out
	return w.scheduler.submit(func() (func(), error) {
		result, err := h(v)
		if err != nil {
			return nil, err
		}
		return func() { out.Forward(result) }, nil
	}, mode)
}

type solderTarget[T any] struct {
	input Input[T]
	mode  SolderType
	fn    func(T)
}

// OutputWire fans a scheduler's results out to every soldered consumer, in
// soldering order.
type OutputWire[T any] struct {
	model   *Model
	source  string
	targets []solderTarget[T]
}

// SolderTo connects the wire to in. The edge is recorded in the model for
// cycle analysis and stop ordering.
func (o *OutputWire[T]) SolderTo(in Input[T], mode SolderType) {
	o.targets = append(o.targets, solderTarget[T]{input: in, mode: mode})
	if o.source != "" {
		o.model.addEdge(edge{from: o.source, to: in.schedulerName(), mode: mode})
	}
}

// SolderToFunc connects the wire to a plain function outside the model. The
// function runs on the goroutine forwarding the value.
func (o *OutputWire[T]) SolderToFunc(f func(T)) {
	o.targets = append(o.targets, solderTarget[T]{fn: f})
}

// Forward delivers v to every soldered consumer.
func (o *OutputWire[T]) Forward(v T) {
	for _, t := range o.targets {
		if t.fn != nil {
			t.fn(v)
			continue
		}
		if !t.input.deliver(v, t.mode) && t.mode == SolderOffer {
			slog.Debug("offer rejected",
				"from", o.source,
				"to", t.input.schedulerName(),
				"wire", t.input.Name(),
			)
		}
	}
}
