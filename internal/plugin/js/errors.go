package js

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrNotExecutable is returned when Run is called on a script that never
// defines the entry function.
var ErrNotExecutable = errors.New("script defines no execute function")

// ErrPendingPromise is returned when an async entry function has not
// settled once the job queue drains.
var ErrPendingPromise = errors.New("execute returned a promise that never settled")

// SyntaxError is returned when JavaScript source cannot be parsed or compiled.
type SyntaxError struct {
	Name string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("javascript syntax error in %s: %v", e.Name, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// errorMessage returns the thrown value's string form without the stack.
func errorMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return ex.Value().String()
	}
	return err.Error()
}
