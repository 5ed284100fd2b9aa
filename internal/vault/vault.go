// Package vault implements the encryption side of the engine.
//
// Snippet content is sealed with a random data key (DEK). The DEK is itself
// sealed with a key derived from the master password (KEK) and only that
// wrapped form is ever persisted, through a KeyStore. Unlock derives the KEK,
// unwraps the DEK into guarded memory and discards the KEK; Lock destroys
// the DEK. The salt and KDF parameters live in the metadata table.
//
// Losing the master password makes masked content unrecoverable.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/metadata"
)

const (
	saltKey        = "vault_salt"
	paramsKey      = "vault_kdf_params"
	initializedKey = "vault_initialized"

	wrapVersion byte = 1
)

var wrapAAD = []byte(common.AppName + "/dek/v1")

type Vault struct {
	mu     sync.RWMutex
	meta   metadata.Repository
	store  KeyStore
	params cryptox.KDFParams
	logger logging.Logger

	dek     *KeyMaterial
	lastErr error
}

// New returns a locked vault. params apply only when a vault is created;
// existing vaults keep the parameters they were created with.
func New(meta metadata.Repository, store KeyStore, params cryptox.KDFParams, l logging.Logger) *Vault {
	return &Vault{
		meta:   meta,
		store:  store,
		params: params,
		logger: l.With("module", "vault"),
	}
}

func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dek == nil
}

// Initialized reports whether a vault was ever created in this database.
func (v *Vault) Initialized(ctx context.Context) (bool, error) {
	mark, err := v.meta.Get(ctx, initializedKey)
	if err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	return mark != nil, nil
}

// Unlock derives the KEK from password and unwraps the DEK. The first
// successful call on a fresh database creates the vault. A failed attempt
// leaves the current state untouched and is remembered so later locked
// operations can report it.
func (v *Vault) Unlock(ctx context.Context, password []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	dek, err := v.unlock(ctx, password)
	if err != nil {
		v.lastErr = err
		v.logger.Warn(ctx, "unlock failed", "error", err)
		return err
	}

	v.dek.Destroy()
	v.dek = dek
	v.lastErr = nil
	v.logger.Info(ctx, "vault unlocked")
	return nil
}

func (v *Vault) unlock(ctx context.Context, password []byte) (*KeyMaterial, error) {
	salt, err := v.meta.Get(ctx, saltKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	if salt == nil {
		return v.create(ctx, password)
	}

	params := v.params
	if _, err := v.meta.GetJSON(ctx, paramsKey, &params); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}

	blob, err := v.store.Load(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrKeyMaterialMissing
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrKeyMaterialMissing, err)
	}

	kek, err := DeriveKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	defer kek.Destroy()

	return unwrap(kek, blob)
}

// create sets up a new vault. It refuses when the database says a vault
// already existed, since a new DEK would orphan every masked snippet.
func (v *Vault) create(ctx context.Context, password []byte) (*KeyMaterial, error) {
	initialized, err := v.Initialized(ctx)
	if err != nil {
		return nil, err
	}
	if initialized {
		return nil, common.ErrKeyMaterialMissing
	}

	salt := cryptox.NewSalt()
	kek, err := DeriveKey(password, salt, v.params)
	if err != nil {
		return nil, err
	}
	defer kek.Destroy()

	dek := newKeyMaterial(cryptox.NewKey())
	blob, err := wrap(kek, dek)
	if err != nil {
		dek.Destroy()
		return nil, err
	}

	if err := v.store.Save(ctx, blob); err != nil {
		dek.Destroy()
		return nil, fmt.Errorf("%w: save wrapped key: %w", common.ErrStorage, err)
	}
	if err := v.persistParams(ctx, salt, v.params); err != nil {
		dek.Destroy()
		return nil, err
	}
	if _, err := v.meta.SetIfAbsent(ctx, initializedKey, []byte{1}); err != nil {
		dek.Destroy()
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}

	v.logger.Info(ctx, "vault created")
	return dek, nil
}

func (v *Vault) persistParams(ctx context.Context, salt []byte, p cryptox.KDFParams) error {
	if err := v.meta.Set(ctx, saltKey, salt); err != nil {
		return fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	if err := v.meta.SetJSON(ctx, paramsKey, p); err != nil {
		return fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	return nil
}

// ChangePassword rewraps the DEK under a key derived from newPassword with
// a fresh salt. Masked content is not re-encrypted.
func (v *Vault) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	dek, err := v.unlock(ctx, oldPassword)
	if err != nil {
		v.lastErr = err
		return err
	}

	salt := cryptox.NewSalt()
	kek, err := DeriveKey(newPassword, salt, v.params)
	if err != nil {
		dek.Destroy()
		return err
	}
	defer kek.Destroy()

	blob, err := wrap(kek, dek)
	if err != nil {
		dek.Destroy()
		return err
	}
	if err := v.store.Save(ctx, blob); err != nil {
		dek.Destroy()
		return fmt.Errorf("%w: save wrapped key: %w", common.ErrStorage, err)
	}
	if err := v.persistParams(ctx, salt, v.params); err != nil {
		dek.Destroy()
		return err
	}

	v.dek.Destroy()
	v.dek = dek
	v.lastErr = nil
	v.logger.Info(ctx, "master password changed")
	return nil
}

// Lock destroys the DEK. Locking a locked vault is a no-op.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.dek.Destroy()
	v.dek = nil
}

// CheckUnlocked returns nil when the vault is unlocked, otherwise
// ErrVaultLocked wrapping the last failed unlock attempt, if any.
func (v *Vault) CheckUnlocked() error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.dek != nil {
		return nil
	}
	return v.lockedErr()
}

func (v *Vault) lockedErr() error {
	if v.lastErr != nil {
		return fmt.Errorf("%w: %w", common.ErrVaultLocked, v.lastErr)
	}
	return common.ErrVaultLocked
}

// Encrypt seals plaintext with the DEK.
func (v *Vault) Encrypt(plaintext, aad []byte) (models.Sealed, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.dek == nil {
		return models.Sealed{}, v.lockedErr()
	}
	return Encrypt(v.dek, plaintext, aad)
}

// Decrypt opens s with the DEK.
func (v *Vault) Decrypt(s models.Sealed, aad []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.dek == nil {
		return nil, v.lockedErr()
	}
	return Decrypt(v.dek, s, aad)
}

// wrap layout: version(1) | nonce(12) | tag(16) | ciphertext.
func wrap(kek, dek *KeyMaterial) ([]byte, error) {
	s, err := cryptox.Seal(kek.Bytes(), dek.Bytes(), wrapAAD)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, 0, 1+len(s.Nonce)+len(s.Tag)+len(s.Ciphertext))
	blob = append(blob, wrapVersion)
	blob = append(blob, s.Nonce...)
	blob = append(blob, s.Tag...)
	blob = append(blob, s.Ciphertext...)
	return blob, nil
}

func unwrap(kek *KeyMaterial, blob []byte) (*KeyMaterial, error) {
	if len(blob) != 1+cryptox.NonceSize+cryptox.TagSize+cryptox.KeySize || blob[0] != wrapVersion {
		return nil, fmt.Errorf("%w: malformed wrapped key", common.ErrKeyMaterialMissing)
	}
	body := blob[1:]
	s := models.Sealed{
		Nonce:      body[:cryptox.NonceSize],
		Tag:        body[cryptox.NonceSize : cryptox.NonceSize+cryptox.TagSize],
		Ciphertext: body[cryptox.NonceSize+cryptox.TagSize:],
	}
	raw, err := cryptox.Open(kek.Bytes(), s, wrapAAD)
	if err != nil {
		return nil, err
	}
	return newKeyMaterial(raw), nil
}
