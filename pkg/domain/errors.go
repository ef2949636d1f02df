package domain

import "errors"

var (
	// ErrNotFound: no record exists for the given taskId.
	ErrNotFound = errors.New("task not found")

	// ErrValidation: malformed or incomplete request; no state was mutated.
	ErrValidation = errors.New("validation failed")

	// ErrTerminalState: the record is COMPLETED or FAILED and the write was
	// absorbed as a no-op. Callers generally treat this as success.
	ErrTerminalState = errors.New("task in terminal state")

	// ErrAgentInvocation: the external agent failed, rejected the request,
	// or timed out. Surfaced asynchronously through the status projection.
	ErrAgentInvocation = errors.New("agent invocation failed")
)
