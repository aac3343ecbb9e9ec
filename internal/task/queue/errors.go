package queue

import (
	"errors"
	"fmt"
)

var (
	ErrAdmissionDenied = errors.New("admission denied")

	ErrHalted            = errors.New("object is halted")
	ErrInsufficientFunds = errors.New("not enough money to queue command")
	ErrQuotaExceeded     = errors.New("too many commands queued")

	ErrInvalidTarget = errors.New("invalid semaphore target")
	ErrNestLimit     = errors.New("nesting limit exceeded")
)

// AdmissionError reports why Enqueue refused a command. It matches both
// ErrAdmissionDenied and its Reason under errors.Is.
type AdmissionError struct {
	Player DBRef
	Reason error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAdmissionDenied, e.Player, e.Reason)
}

func (e *AdmissionError) Unwrap() []error { return []error{ErrAdmissionDenied, e.Reason} }

func denied(player DBRef, reason error) error {
	return &AdmissionError{Player: player, Reason: reason}
}
