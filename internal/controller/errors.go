package controller

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
)

// FailureKind is the typed failure carried by OperationFailed notifications.
type FailureKind string

const (
	FailureStorage            FailureKind = "storage"
	FailureIO                 FailureKind = "io"
	FailureKeyDerivation      FailureKind = "key_derivation"
	FailureAuthentication     FailureKind = "authentication_failure"
	FailureVaultLocked        FailureKind = "vault_locked"
	FailureKeyMaterialMissing FailureKind = "key_material_missing"
	FailureNotFound           FailureKind = "not_found"
	FailureInvalidCommand     FailureKind = "invalid_command"
	FailureClipboard          FailureKind = "clipboard"
	FailureShuttingDown       FailureKind = "shutting_down"
	FailureTimeout            FailureKind = "timeout"
	FailureInternal           FailureKind = "internal"
)

// classification order matters: a locked error that wraps a failed unlock
// is reported as the authentication failure.
var classification = []struct {
	err  error
	kind FailureKind
}{
	{common.ErrAuthenticationFailure, FailureAuthentication},
	{common.ErrKeyMaterialMissing, FailureKeyMaterialMissing},
	{common.ErrKeyDerivation, FailureKeyDerivation},
	{common.ErrVaultLocked, FailureVaultLocked},
	{common.ErrInvalidCommand, FailureInvalidCommand},
	{common.ErrNotFound, FailureNotFound},
	{common.ErrClipboard, FailureClipboard},
	{common.ErrIO, FailureIO},
	{common.ErrStorage, FailureStorage},
	{common.ErrShuttingDown, FailureShuttingDown},
	{context.DeadlineExceeded, FailureTimeout},
}

// ClassifyError maps an error to its FailureKind; "" for nil.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}
	for _, c := range classification {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return FailureInternal
}

// KindError lets errors that crossed a process boundary keep their kind.
type KindError struct {
	Kind    FailureKind
	Message string
}

func (e *KindError) Error() string { return e.Message }

// Unwrap maps the kind back to its sentinel so errors.Is keeps working.
func (e *KindError) Unwrap() error {
	for _, c := range classification {
		if c.kind == e.Kind {
			return c.err
		}
	}
	return nil
}
