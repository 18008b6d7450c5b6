// Package common defines shared constants and sentinel errors used across
// the record core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// ErrValidation indicates malformed input. Always fatal and surfaced
	// immediately to the caller.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates a missing record, blob or grant.
	ErrNotFound = errors.New("not found")

	// ErrKeyNotFound indicates a missing per-record data key. During record
	// creation this aborts the storage stage; during download it triggers the
	// degraded default-key path.
	ErrKeyNotFound = errors.New("data key not found")

	// ErrIntegrity indicates an authentication-tag mismatch or a failed ledger
	// verification. It signals tampering and is never silently swallowed.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrConnection indicates the ledger was unreachable after bounded
	// retries. Non-fatal for creation, denying for access checks.
	ErrConnection = errors.New("ledger connection failed")

	// ErrStorage indicates the content store was unreachable. Non-fatal for
	// creation, fatal for download.
	ErrStorage = errors.New("content store unavailable")

	// ErrAccessDenied is the fail-closed outcome of an access check.
	ErrAccessDenied = errors.New("access denied")
)
