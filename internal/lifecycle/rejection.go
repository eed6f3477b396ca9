// Package lifecycle holds the order, delivery and refund state machines and
// the refund eligibility rules. Everything here is pure: callers load the
// aggregates, ask this package whether a change is allowed, and persist.
package lifecycle

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidTransition Kind = "invalid_transition"
	KindGuardViolation    Kind = "guard_violation"
	KindEligibilityDenial Kind = "eligibility_denial"
	KindCapacityViolation Kind = "capacity_violation"
	KindDataIntegrity     Kind = "data_integrity"
	KindInvalidInput      Kind = "invalid_input"
)

// Rejection is a business-rule refusal. Message is written for end users and
// is safe to return verbatim.
type Rejection struct {
	Kind    Kind
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(kind Kind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Invalid builds an invalid-input rejection for callers validating requests.
func Invalid(format string, args ...any) error {
	return reject(KindInvalidInput, format, args...)
}

// Guard builds a guard-violation rejection for rules checked outside this
// package, such as stock availability.
func Guard(format string, args ...any) error {
	return reject(KindGuardViolation, format, args...)
}
