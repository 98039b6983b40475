package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrArity is wrapped when the argument count does not fit the signature.
	ErrArity = errors.New("dispatch: wrong number of arguments")

	// ErrMalformedArgs is returned when an argument payload is not valid JSON.
	ErrMalformedArgs = errors.New("dispatch: malformed arguments")
)

// NotFoundError reports an operation name absent from the table.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("operation %q not found", e.Name)
}

// ExecutionError reports an operation that was found but failed.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("operation %q failed: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
