package checkout

import (
	"errors"
	"fmt"
)

// ErrMandateMissing is returned when completion is attempted on a session
// that never received a payment mandate.
var ErrMandateMissing = errors.New("checkout: payment mandate missing")

// NotReadyError is returned when a session's status does not allow the
// attempted operation. Completing a terminal session lands here too.
type NotReadyError struct {
	Status string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("checkout session not ready for completion (status: %s)", e.Status)
}

// TerminalStateError is returned when an update targets a finalized session.
type TerminalStateError struct {
	Status string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("checkout session is already finalized (status: %s)", e.Status)
}

// OTPError is returned when a submitted OTP code is rejected.
type OTPError struct {
	Reason string
}

func (e *OTPError) Error() string {
	return e.Reason
}

// SigningError is returned under the strict signing policy when the
// merchant authorization could not be produced.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to generate merchant authorization: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}
