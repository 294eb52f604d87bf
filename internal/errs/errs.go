// Package errs defines the error taxonomy shared across the settlement engine.
//
// Validation errors are caller-correctable and safe to surface verbatim.
// Invariant violations are transaction-fatal: the enclosing transaction is
// rolled back and the detail is logged for operators, never shown to callers.
package errs

import (
	"errors"
	"fmt"
)

// ErrAccountNotFound is returned when the referenced account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// Validation is a caller-correctable rejection: bad amounts, stale snapshot
// references, funding attempted while an exposure is open, and the like.
type Validation struct {
	Reason string
}

func (e *Validation) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a Validation error with a formatted reason.
func Validationf(format string, args ...interface{}) error {
	return &Validation{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a Validation error.
func IsValidation(err error) bool {
	var v *Validation
	return errors.As(err, &v)
}

// Invariant is raised when one of the auditor checks fails. It always aborts
// the enclosing transaction; nothing is partially applied.
type Invariant struct {
	Check  string // short identifier of the failed check
	Detail string // operator-facing detail, not exposed to callers
}

func (e *Invariant) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Check, e.Detail)
}

// Invariantf builds an Invariant error for the named check.
func Invariantf(check, format string, args ...interface{}) error {
	return &Invariant{Check: check, Detail: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err is (or wraps) an Invariant violation.
func IsInvariant(err error) bool {
	var v *Invariant
	return errors.As(err, &v)
}
