package threatmodel

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput matches any MissingInputError.
	ErrMissingInput = errors.New("no IaC artifact supplied")
	// ErrModelInvocation matches any ModelInvocationError.
	ErrModelInvocation = errors.New("model invocation failed")
	// ErrMalformedResponse matches any MalformedResponseError.
	ErrMalformedResponse = errors.New("malformed model response")
)

// MissingInputError is returned before the model is called when there is
// nothing to analyze.
type MissingInputError struct{}

func (e *MissingInputError) Error() string { return ErrMissingInput.Error() }

func (e *MissingInputError) Is(target error) bool { return target == ErrMissingInput }

// InvocationReason classifies a failed model call.
type InvocationReason string

const (
	ReasonAuth          InvocationReason = "auth"       // 401/403
	ReasonRateLimit     InvocationReason = "rate_limit" // 429
	ReasonBilling       InvocationReason = "billing"    // 402
	ReasonTimeout       InvocationReason = "timeout"    // 408/504/deadline
	ReasonOverloaded    InvocationReason = "overloaded" // 5xx
	ReasonFormat        InvocationReason = "format"     // 400
	ReasonEmptyResponse InvocationReason = "empty_response"
	ReasonUnknown       InvocationReason = "unknown"
)

// ModelInvocationError wraps any failure of the outbound model call.
type ModelInvocationError struct {
	Reason InvocationReason
	Status int
	Model  string
	Err    error
}

func (e *ModelInvocationError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("can't invoke %q (%s, status %d): %v", e.Model, e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("can't invoke %q (%s): %v", e.Model, e.Reason, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

func (e *ModelInvocationError) Is(target error) bool { return target == ErrModelInvocation }

// Retriable reports whether running the same analysis again could succeed.
// Auth, billing and request format errors need operator action first.
func (e *ModelInvocationError) Retriable() bool {
	switch e.Reason {
	case ReasonAuth, ReasonBilling, ReasonFormat:
		return false
	}
	return true
}

// MalformedResponseError means the model answered but no structured payload
// could be recovered from the text.
type MalformedResponseError struct {
	Reason  string
	Excerpt string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	msg := "malformed model response: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }
