package rbac

import (
	"context"
	"errors"
	"fmt"
)

// Configuration errors. A request naming something outside the catalogs is a
// programming or data error, never a denial.
var (
	ErrUnknownPermission     = errors.New("rbac: unknown permission")
	ErrUnknownRole           = errors.New("rbac: unknown role")
	ErrUnknownAssignmentKind = errors.New("rbac: unknown assignment kind")
)

// Store errors
var (
	ErrAssignmentExists   = errors.New("rbac: role assignment already exists")
	ErrAssignmentNotFound = errors.New("rbac: role assignment not found")
	ErrRoleRequired       = errors.New("rbac: default assignments require a role")
	ErrReferenceNotFound  = errors.New("rbac: referenced user or tenant not found")
)

// ErrDataAccess is matched by every *DataAccessError
var ErrDataAccess = errors.New("rbac: data access failure")

// DataAccessError reports that the engine could not read assignments or role
// permission sets. It is distinct from a denial.
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("rbac: %s: %v", e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDataAccess) true for any DataAccessError
func (e *DataAccessError) Is(target error) bool {
	return target == ErrDataAccess
}

// IsConfigurationError reports whether err is an unknown-permission, unknown-role
// or unknown-kind error
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownPermission) ||
		errors.Is(err, ErrUnknownRole) ||
		errors.Is(err, ErrUnknownAssignmentKind)
}

// wrapDataAccess leaves configuration errors and context errors untouched and
// wraps everything else
func wrapDataAccess(op string, err error) error {
	if err == nil || IsConfigurationError(err) {
		return err
	}
	if errors.Is(err, ErrDataAccess) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &DataAccessError{Op: op, Err: err}
}
