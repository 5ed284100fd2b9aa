// Package common defines shared constants and sentinel errors used across
// clipkeeper components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrStorage  = errors.New("storage error")
	ErrIO       = errors.New("i/o error")

	// Vault errors.
	ErrKeyDerivation         = errors.New("key derivation failed")
	ErrAuthenticationFailure = errors.New("authentication failed")
	ErrVaultLocked           = errors.New("vault is locked")
	ErrKeyMaterialMissing    = errors.New("wrapped key material is missing")

	// Command errors.
	ErrInvalidCommand = errors.New("invalid command")
	ErrShuttingDown   = errors.New("controller is shutting down")

	// OS collaborator errors.
	ErrClipboard = errors.New("clipboard unavailable")

	// IPC auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
