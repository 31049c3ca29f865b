package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common runtime errors
var (
	ErrComponentNotFound = errors.New("component not found")
	ErrNotRunning        = errors.New("component is not running")
	ErrReloadInProgress  = errors.New("reload already in progress")
	ErrTimeout           = errors.New("chain execution deadline exceeded")
	ErrCancelled         = errors.New("chain execution cancelled")
)

// Severity classifies component failures for the aggregate startup report.
type Severity int

const (
	SeverityInformation Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the log-friendly name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInformation:
		return "information"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// UnknownDependencyError reports a declared dependency that no descriptor satisfies.
type UnknownDependencyError struct {
	ComponentID  string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("component %q depends on unknown component %q", e.ComponentID, e.DependencyID)
}

// CyclicDependencyError reports at least one concrete dependency cycle.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Members, " -> "))
}

// RestrictedModuleError reports a module reference rejected by the
// component's isolation boundary. Not recoverable at the component level.
type RestrictedModuleError struct {
	ComponentID string
	Module      string
}

func (e *RestrictedModuleError) Error() string {
	return fmt.Sprintf("module %q is restricted for component %q", e.Module, e.ComponentID)
}

// DuplicateRegistrationError reports a registry insert for an already-taken id.
// Local and recoverable: the caller may retry under a different id.
type DuplicateRegistrationError struct {
	ID string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("component %q is already registered", e.ID)
}

// ComponentError is the structured failure record attached to a lifecycle
// transition. Critical errors do not stop independent siblings from starting.
type ComponentError struct {
	ComponentID string
	Code        string
	Message     string
	Severity    Severity
	Cause       error
}

func (e *ComponentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("component %s: %s: %s: %v", e.ComponentID, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("component %s: %s: %s", e.ComponentID, e.Code, e.Message)
}

func (e *ComponentError) Unwrap() error {
	return e.Cause
}

// Lifecycle failure codes carried by ComponentError.
const (
	CodeResolveFailed    = "RESOLVE_FAILED"
	CodeBoundaryRejected = "BOUNDARY_REJECTED"
	CodeLoadFailed       = "LOAD_FAILED"
	CodeInitFailed       = "INIT_FAILED"
	CodeStartFailed      = "START_FAILED"
	CodeStopFailed       = "STOP_FAILED"
	CodeDependencyFailed = "DEPENDENCY_FAILED"
	CodeReloadFailed     = "RELOAD_FAILED"
	CodeInvalidVersion   = "INVALID_VERSION"
)
