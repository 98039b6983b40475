package state

import (
	"errors"
	"fmt"
)

// ErrNotStruct is returned when the model target is not a pointer to a struct.
var ErrNotStruct = errors.New("state: target must be a non-nil pointer to a struct")

// ValidationError reports a patch value that does not fit its field.
type ValidationError struct {
	Key string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("state: invalid value for %q: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
