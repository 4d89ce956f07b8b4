package registry

import (
	"errors"
	"fmt"
	"strings"

	"contractline/internal/domain"
)

var (
	// ErrRegistry is matched by every registry-level rejection that is not a
	// lookup, transition or cycle failure.
	ErrRegistry          = errors.New("contract registry error")
	ErrNotFound          = errors.New("contract not found")
	ErrAlreadyExists     = errors.New("contract already exists")
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
	ErrDependencyCycle   = errors.New("dependency cycle")
	ErrHasDependents     = errors.New("contract has dependents")
	ErrInvalidContract   = errors.New("invalid contract")
)

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("contract %s not found", e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type AlreadyExistsError struct {
	ID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("contract %s already exists", e.ID)
}

func (e *AlreadyExistsError) Unwrap() []error { return []error{ErrAlreadyExists, ErrRegistry} }

type TransitionError struct {
	ID   string
	From domain.LifecycleState
	To   domain.LifecycleState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("contract %s: invalid lifecycle transition %s -> %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// CycleError names the contract whose dependency list would close a cycle.
// Path is the cycle itself when known.
type CycleError struct {
	ContractID string
	DependsOn  []string
	Path       []string
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("dependency cycle: contract %s with depends_on [%s]", e.ContractID, strings.Join(e.DependsOn, ", "))
	if len(e.Path) > 0 {
		msg += " (" + strings.Join(e.Path, " -> ") + ")"
	}
	return msg
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

type DependentsError struct {
	ID         string
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("contract %s has %d dependent(s): %s", e.ID, len(e.Dependents), strings.Join(e.Dependents, ", "))
}

func (e *DependentsError) Unwrap() []error { return []error{ErrHasDependents, ErrRegistry} }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidContract, fmt.Sprintf(format, args...))
}
