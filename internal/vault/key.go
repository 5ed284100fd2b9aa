package vault

import (
	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// KeyMaterial is a symmetric key held in guarded, non-swappable memory.
// Destroy wipes it; a destroyed key behaves as an empty key.
type KeyMaterial struct {
	buf *memguard.LockedBuffer
}

// newKeyMaterial moves b into locked memory and wipes b.
func newKeyMaterial(b []byte) *KeyMaterial {
	return &KeyMaterial{buf: memguard.NewBufferFromBytes(b)}
}

// Bytes exposes the key. The slice is only valid until Destroy.
func (k *KeyMaterial) Bytes() []byte {
	if k == nil || k.buf == nil || !k.buf.IsAlive() {
		return nil
	}
	return k.buf.Bytes()
}

func (k *KeyMaterial) Destroy() {
	if k != nil && k.buf != nil {
		k.buf.Destroy()
	}
}

// DeriveKey runs the password KDF and returns the result as KeyMaterial.
func DeriveKey(password, salt []byte, p cryptox.KDFParams) (*KeyMaterial, error) {
	raw, err := cryptox.DeriveKey(password, salt, p)
	if err != nil {
		return nil, err
	}
	return newKeyMaterial(raw), nil
}

// Encrypt seals plaintext under k with a fresh nonce. aad is authenticated
// but not stored; Decrypt must be given the same bytes.
func Encrypt(k *KeyMaterial, plaintext, aad []byte) (models.Sealed, error) {
	return cryptox.Seal(k.Bytes(), plaintext, aad)
}

// Decrypt opens s under k. It fails closed with common.ErrAuthenticationFailure.
func Decrypt(k *KeyMaterial, s models.Sealed, aad []byte) ([]byte, error) {
	return cryptox.Open(k.Bytes(), s, aad)
}
