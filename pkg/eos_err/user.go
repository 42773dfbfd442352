// pkg/eos_err/user.go

package eos_err

import (
	"errors"
	"fmt"
	"io"
	"os"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// UserError marks an error as expected and recoverable by the user.
type UserError struct {
	cause error
}

func (e *UserError) Error() string {
	return e.cause.Error()
}

func (e *UserError) Unwrap() error {
	return e.cause
}

// NewExpectedError wraps an error for softer UX handling.
func NewExpectedError(err error) error {
	if err == nil {
		return nil
	}
	return &UserError{cause: err}
}

// IsExpectedUserError checks if the error is marked as expected.
func IsExpectedUserError(err error) bool {
	var e *UserError
	return errors.As(err, &e)
}

// PrintError logs err and prints it to stderr, followed by any hints
// attached with errors.WithHint. Expected user errors are printed as notices.
func PrintError(userMessage string, err error) {
	printError(os.Stderr, userMessage, err)
}

func printError(w io.Writer, userMessage string, err error) {
	if err == nil {
		return
	}
	prefix := "Error"
	if IsExpectedUserError(err) {
		prefix = "Notice"
		zap.L().Warn(userMessage, zap.Error(err))
	} else {
		zap.L().Error(userMessage, zap.Error(err))
	}
	fmt.Fprintf(w, "%s: %s: %v\n", prefix, userMessage, err)
	for _, hint := range cerr.GetAllHints(err) {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}
