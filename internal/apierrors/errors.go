// Package apierrors holds the sentinel errors shared across the
// orchestrator and the agent processes, plus the taxonomy classifiers
// used to decide retry eligibility and HTTP status mapping.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison using errors.Is(). Grouped by the
// taxonomy in the error-handling design: input, transient, terminal
// domain, terminal infrastructure.
var (
	// Input errors - 4xx on the client surface, session stage untouched.
	ErrInvalidPath       = errors.New("invalid dataset path")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrInvalidState      = errors.New("invalid state for requested operation")
	ErrUnknownSession    = errors.New("unknown session")
	ErrUnknownTask       = errors.New("unknown task")
	ErrInvalidPatch      = errors.New("invalid context patch")
	ErrInvalidTransition = errors.New("invalid workflow stage transition")

	// Transient downstream errors - bounded-retry inside call_llm, or
	// surfaced by the router after its own timeout.
	ErrLLMRateLimited = errors.New("llm provider rate limited")
	ErrLLMTransient   = errors.New("llm provider transient error")
	ErrTransport      = errors.New("transport error")
	ErrTimeout        = errors.New("timeout")

	// Terminal domain errors - move the session to failed with a
	// clarification prompt.
	ErrConversionFailed     = errors.New("conversion failed")
	ErrValidationUnreadable = errors.New("validation report unreadable")

	// Terminal infrastructure errors - 5xx to the client.
	ErrBackendUnavailable  = errors.New("durable backend unavailable")
	ErrCorruptRecord       = errors.New("corrupt session record")
	ErrAgentNotRegistered  = errors.New("agent not registered")
	ErrLLMCallFailed       = errors.New("llm call failed after retries")
	ErrNotRegisteredAsThis = errors.New("caller is not a registered agent")
)

// OrchestratorError carries structured context about a failure,
// mirroring the op/kind/id/message shape used throughout the router,
// session store, and workflow packages.
type OrchestratorError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *OrchestratorError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil && e.ID != "":
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// New builds an OrchestratorError wrapping err for the given operation.
func New(op, kind string, err error) *OrchestratorError {
	return &OrchestratorError{Op: op, Kind: kind, Err: err}
}

// WithID attaches an entity ID (e.g. session_id) to the error.
func (e *OrchestratorError) WithID(id string) *OrchestratorError {
	e.ID = id
	return e
}

// IsRetryable reports whether call_llm / the router should retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLLMRateLimited) ||
		errors.Is(err, ErrLLMTransient) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrTimeout)
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownSession) || errors.Is(err, ErrAgentNotRegistered)
}

// IsStateError reports whether err is a workflow/state-machine violation.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidPatch)
}

// IsInfrastructure reports whether err belongs in the 5xx taxonomy.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrCorruptRecord) ||
		errors.Is(err, ErrAgentNotRegistered) ||
		errors.Is(err, ErrLLMCallFailed)
}
