// Package cli maps command failures to typed errors and process exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"

	"github.com/ppiankov/lokisink/internal/buffers"
	"github.com/ppiankov/lokisink/internal/forward"
	"github.com/ppiankov/lokisink/internal/sink"
)

// Exit codes for wrapper scripts and supervisors.
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitUsage      = 2
	ExitConfig     = 3
	ExitPermission = 4
	ExitNetwork    = 5
)

// CLIError is a structured error with a category for scripted callers.
type CLIError struct {
	Code    int    `json:"exit_code"`
	Type    string `json:"error"`
	Message string `json:"message"`
	Recover bool   `json:"recoverable"`

	cause error
}

func (e *CLIError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *CLIError) Unwrap() error { return e.cause }

// NewUsageError creates an error for invalid arguments.
func NewUsageError(msg string) *CLIError {
	return &CLIError{Code: ExitUsage, Type: "invalid_args", Message: msg}
}

// NewConfigError creates an error for unusable configuration.
func NewConfigError(err error) *CLIError {
	return &CLIError{Code: ExitConfig, Type: "config", Message: err.Error(), cause: err}
}

// NewPermissionError creates an error for access denied.
func NewPermissionError(err error) *CLIError {
	return &CLIError{Code: ExitPermission, Type: "permission", Message: err.Error(), cause: err}
}

// NewNetworkError creates a recoverable network error.
func NewNetworkError(err error) *CLIError {
	return &CLIError{Code: ExitNetwork, Type: "network", Message: err.Error(), Recover: true, cause: err}
}

// NewInternalError creates an error for unexpected failures.
func NewInternalError(msg string) *CLIError {
	return &CLIError{Code: ExitInternal, Type: "internal", Message: msg}
}

// Classify wraps err in the CLIError matching its cause. CLIErrors and nil
// are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return err
	}

	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, sink.ErrInvalidOptions),
		errors.Is(err, forward.ErrInvalidTenant),
		errors.Is(err, forward.ErrInvalidHeader),
		errors.Is(err, buffers.ErrInvalidLimit):
		return NewConfigError(err)
	case errors.Is(err, fs.ErrPermission):
		return NewPermissionError(err)
	case errors.As(err, &opErr), errors.As(err, &netErr):
		return NewNetworkError(err)
	}
	return err
}

// ExitCode extracts the exit code from an error.
// Returns ExitInternal (1) for non-CLIError errors, ExitOK (0) for nil.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ExitInternal
}

// FormatError writes the error to w. In JSON mode, it writes structured JSON.
// In text mode, it writes "error: <message>".
func FormatError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		var ce *CLIError
		if !errors.As(err, &ce) {
			ce = &CLIError{
				Code:    ExitInternal,
				Type:    "internal",
				Message: err.Error(),
			}
		}
		data, _ := json.Marshal(ce)
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	_, _ = fmt.Fprintf(w, "error: %v\n", err)
}
