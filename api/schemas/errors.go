package schemas

import (
	"fmt"
	"time"
)

// The runtime maps every failure into one of the error classes below before it
// crosses a package boundary. Callers branch with errors.As.

// ValidationError reports malformed or incomplete input to an operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// SecurityError reports an action refused by the admission policy.
type SecurityError struct {
	URL    string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security: %s refused: %s", e.URL, e.Reason)
}

// ResourceLimitError reports an exhausted per-session budget.
type ResourceLimitError struct {
	Resource string
	Limit    int
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("resource limit: %s budget of %d exhausted", e.Resource, e.Limit)
}

// ExternalServiceError reports a failure of a dependency outside the process
// (LLM provider, database). It wraps the transport error.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NavigationTimeoutError reports a page load that did not settle in time.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s did not settle within %s", e.URL, e.Timeout)
}

// LoopBudgetError reports an agent turn that hit its iteration cap without the
// model ending its turn.
type LoopBudgetError struct {
	Iterations int
}

func (e *LoopBudgetError) Error() string {
	return fmt.Sprintf("agent loop exceeded %d iterations without completing", e.Iterations)
}
