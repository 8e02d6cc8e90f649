package lua

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ErrNotExecutable is returned when Run is called on a chunk that never
// defines the entry function.
var ErrNotExecutable = errors.New("lua chunk defines no execute function")

// SyntaxError is returned when Lua source cannot be parsed or compiled.
type SyntaxError struct {
	Name string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("lua syntax error in %s: %v", e.Name, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// errorMessage returns the message a Lua error carries, without the
// appended stack trace.
func errorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}
