package build

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExecFailed is matched by ExecFailure.
var ErrExecFailed = errors.New("build command failed")

var _ error = &ExecFailure{}

// ExecFailure is a build command that ran and exited non-zero.
type ExecFailure struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecFailure) Error() string {
	msg := fmt.Sprintf("%q exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ":\n" + stderr
	}
	return msg
}

func (e *ExecFailure) Unwrap() error {
	return e.Err
}

func (e *ExecFailure) Is(target error) bool {
	if target == ErrExecFailed {
		return true
	}
	if _, ok := target.(*ExecFailure); ok {
		return true
	}
	return false
}
