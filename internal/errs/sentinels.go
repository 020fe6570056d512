// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across codec/transport/pairing/repository layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (base version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates a rejected pairing attempt (wrong PIN or server refusal).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., storage path taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrFormat indicates a malformed QR credential, key or entry point.
	ErrFormat = errors.New("format error")

	// ErrUnknownCommand indicates an inbound command code outside the known set.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrContextExists indicates a transport context is already open for the instance.
	ErrContextExists = errors.New("transport context already exists")

	// ErrNoContext indicates an operation that needs an open transport context.
	ErrNoContext = errors.New("no transport context")

	// ErrNotConnected indicates the transport has no live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrNoContact indicates the command target could not be resolved to a contact.
	ErrNoContact = errors.New("no contact")

	// ErrLicenseExpired indicates the activation license is no longer valid.
	ErrLicenseExpired = errors.New("license expired")
)
