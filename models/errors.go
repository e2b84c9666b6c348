package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store, the coordinator and the transport
// layer. Callers match them with errors.Is; stores wrap them with context.
var (
	ErrNotFound                 = errors.New("not found")
	ErrRegistrationWindowClosed = errors.New("registration window closed")
	ErrConflict                 = errors.New("conflict")
	ErrInvalidState             = errors.New("invalid state")
	ErrForbidden                = errors.New("forbidden")
	ErrInvalidInput             = errors.New("invalid input")
	ErrSyncAttemptFailed        = errors.New("sync attempt failed")

	ErrRegistrationNotOpenYet = fmt.Errorf("%w: registration has not opened yet", ErrRegistrationWindowClosed)
	ErrRegistrationClosed     = fmt.Errorf("%w: registration has closed", ErrRegistrationWindowClosed)
	ErrDuplicateRegistration  = fmt.Errorf("%w: active registration already exists", ErrConflict)
	ErrVersionMismatch        = fmt.Errorf("%w: tournament was modified concurrently", ErrConflict)
)
