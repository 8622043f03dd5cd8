// Package orcherr defines the error taxonomy shared across the orchestrator
// core (spec §7): transient, policy, schema, gate-block, and fatal errors.
// Components classify failures into this taxonomy so retry and escalation
// decisions stay uniform everywhere a task, phase, or gate can fail.
package orcherr

import (
	"errors"
	"fmt"
)

// Sentinel category errors. Use errors.Is against these to classify an
// error returned from a dispatcher/coordinator call.
var (
	// ErrTransient marks network, timeout, rate-limit, or resource-contention
	// failures. Retryable with exponential backoff.
	ErrTransient = errors.New("transient error")

	// ErrPolicy marks quota rejection, budget exceeded, or missing
	// allow-listed tool. Not retried by the caller.
	ErrPolicy = errors.New("policy error")

	// ErrSchema marks input/output schema validation failures.
	ErrSchema = errors.New("schema error")

	// ErrFatal marks invariant violations, authorization failures, or
	// ledger append failures. Immediate run failure, no retry.
	ErrFatal = errors.New("fatal error")

	// ErrMissingInput marks a coordinator fast-fail when a dependency
	// artifact is absent (spec §4.2 edge cases).
	ErrMissingInput = errors.New("missing_input")

	// ErrCycleDetected marks a rejected cyclic task dependency graph.
	ErrCycleDetected = errors.New("cycle detected in task dependency graph")

	// ErrIllegalTransition marks a rejected run state transition.
	ErrIllegalTransition = errors.New("illegal run state transition")
)

// TransientError wraps a retryable failure with its cause.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return errors.Join(ErrTransient, e.Err) }
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// PolicyError wraps an admission/budget refusal.
type PolicyError struct {
	Op     string
	Reason string
}

func (e *PolicyError) Error() string { return fmt.Sprintf("%s: policy: %s", e.Op, e.Reason) }
func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }

// SchemaError wraps an input/output schema mismatch.
type SchemaError struct {
	Op     string
	Target string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: schema mismatch on %s: %v", e.Op, e.Target, e.Err)
}
func (e *SchemaError) Unwrap() error      { return errors.Join(ErrSchema, e.Err) }
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// FatalError wraps an unrecoverable invariant violation.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: fatal: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return errors.Join(ErrFatal, e.Err) }
func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// Retryable reports whether err should be retried with backoff per the
// taxonomy in spec §7 (TransientError yes; SchemaError only up to its own
// cap, handled by the caller; PolicyError/FatalError/GateBlock no).
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
