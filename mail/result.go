package mail

import (
	"fmt"

	"github.com/pkg/errors"
)

// Outcome is the result of a send attempt.
type Outcome int

const (
	// OutcomeRejected means the message failed validation and nothing was sent.
	OutcomeRejected Outcome = iota
	// OutcomeSuccess means the provider accepted the message.
	OutcomeSuccess
	// OutcomeFailure means the request was sent but did not succeed.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is delivered once per dispatched message.
type Result struct {
	Outcome Outcome
	// Errors reported by the provider API.
	Errors []string
	// Err is a transport or decoding error.
	Err error
}

// OK reports whether the message was accepted.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// ErrRejected is matched by every validation error.
var ErrRejected = errors.New("message rejected")

// ValidationError names the field that made a message invalid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrRejected) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrRejected
}
