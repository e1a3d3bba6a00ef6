package wiring

// Split builds a direct scheduler that forwards each element of a slice as
// its own value.
func Split[T any](m *Model, name string, from *OutputWire[[]T], mode SolderType) (*OutputWire[T], error) {
	s, err := NewScheduler[T](m, name, Direct)
	if err != nil {
		return nil, err
	}
	in := NewInputWire[[]T, T](s, "items")
	in.BindConsumer(func(items []T) error {
		for _, item := range items {
			s.Output().Forward(item)
		}
		return nil
	})
	from.SolderTo(in, mode)
	return s.Output(), nil
}

// Filter builds a direct scheduler that forwards only values for which keep
// returns true.
func Filter[T any](m *Model, name string, from *OutputWire[T], mode SolderType, keep func(T) bool) (*OutputWire[T], error) {
	s, err := NewScheduler[T](m, name, Direct)
	if err != nil {
		return nil, err
	}
	in := NewInputWire[T, T](s, "in")
	in.Bind(func(v T) (T, error) {
		if !keep(v) {
			return v, ErrSkip
		}
		return v, nil
	})
	from.SolderTo(in, mode)
	return s.Output(), nil
}

// Transform builds a direct scheduler that maps each value through fn.
func Transform[A, B any](m *Model, name string, from *OutputWire[A], mode SolderType, fn func(A) B) (*OutputWire[B], error) {
	s, err := NewScheduler[B](m, name, Direct)
	if err != nil {
		return nil, err
	}
	in := NewInputWire[A, B](s, "in")
	in.Bind(func(v A) (B, error) {
		return fn(v), nil
	})
	from.SolderTo(in, mode)
	return s.Output(), nil
}
