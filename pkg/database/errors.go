// Package database provides sentinel errors for repository operations,
// so callers can distinguish "not found" and conflict cases from other
// failures without string matching.

package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrSignerNotFound is returned when a signer identity has no
	// registration for the requested epoch.
	ErrSignerNotFound = errors.New("signer not found")

	// ErrStakeDistributionNotFound is returned when no stake snapshot
	// exists for the requested epoch.
	ErrStakeDistributionNotFound = errors.New("stake distribution not found")

	// ErrVerificationKeyNotFound is returned when no verification key
	// is registered for a (signer, epoch) pair.
	ErrVerificationKeyNotFound = errors.New("verification key not found")

	// ErrProtocolParametersNotFound is returned when no protocol
	// parameters are recorded for the requested epoch.
	ErrProtocolParametersNotFound = errors.New("protocol parameters not found")

	// ErrOpenMessageNotFound is returned when no open message exists
	// for the requested signed-entity type.
	ErrOpenMessageNotFound = errors.New("open message not found")

	// ErrCertificateNotFound is returned when no certificate exists
	// for the requested hash or signed-entity type.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrAlreadyRegistered is returned when a signer or key is already
	// registered for the given epoch.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrBadEpoch is returned when an operation targets an epoch
	// outside the window the component is willing to accept writes for.
	ErrBadEpoch = errors.New("epoch outside acceptable window")

	// ErrAlreadyExists is returned when a create operation targets a
	// key that already has a record (e.g. an open message already
	// created for a signed-entity type).
	ErrAlreadyExists = errors.New("already exists")
)
