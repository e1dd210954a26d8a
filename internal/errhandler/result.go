package errhandler

// Result carries either a value or an error across a fallible boundary.
// A Result with a non-nil Err must not be treated as a success, whatever
// Value holds.
type Result[T any] struct {
	Value T
	Err   error
}

// OK wraps a successful value
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps an error; the value is the zero value of T
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Call runs fn the way Run does and captures its outcome in a Result.
func Call[T any](op string, fn func() (T, error)) Result[T] {
	var v T
	err := Run(op, func() error {
		var innerErr error
		v, innerErr = fn()
		return innerErr
	})
	if err != nil {
		var zero T
		return Result[T]{Value: zero, Err: err}
	}
	return Result[T]{Value: v}
}

// IsOK reports whether the result holds a value
func (r Result[T]) IsOK() bool {
	return r.Err == nil
}

// Unwrap returns the Go (value, error) pair
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Value, nil
}
