package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by data providers when a lookup matches nothing.
// Tools turn it into negative evidence rather than a ToolError.
var ErrNotFound = errors.New("not found")

// ErrRateLimited is returned by upstream adapters that refused a call to stay
// inside their rate limit.
var ErrRateLimited = errors.New("rate limited")

// ErrUnavailable marks an upstream that could not be reached.
var ErrUnavailable = errors.New("upstream unavailable")

// ToolErrorKind classifies a tool failure.
type ToolErrorKind string

const (
	ToolErrInvalidInput ToolErrorKind = "invalid_input"
	ToolErrTimeout      ToolErrorKind = "timeout"
	ToolErrRateLimited  ToolErrorKind = "rate_limited"
	ToolErrUnavailable  ToolErrorKind = "unavailable"
	ToolErrUnknownTool  ToolErrorKind = "unknown_tool"
	ToolErrFailed       ToolErrorKind = "failed"
)

// ToolError is a failed tool execution. It is recorded as the ToolCall output
// and never aborts the run.
type ToolError struct {
	Tool string
	Kind ToolErrorKind
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError classifies err into a ToolError for the named tool.
func NewToolError(tool string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	kind := ToolErrFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ToolErrTimeout
	case errors.Is(err, ErrRateLimited):
		kind = ToolErrRateLimited
	case errors.Is(err, ErrUnavailable):
		kind = ToolErrUnavailable
	}
	return &ToolError{Tool: tool, Kind: kind, Err: err}
}
