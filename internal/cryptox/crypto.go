// Package cryptox holds the primitives behind the vault: argon2id key
// derivation and AES-256-GCM sealing with the nonce, ciphertext and tag kept
// apart so they can be stored in separate columns.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"golang.org/x/crypto/argon2"
)

const (
	KeySize     = 32
	NonceSize   = 12
	TagSize     = 16
	MinSaltSize = 16
)

// KDFParams are the argon2id cost parameters. They are persisted next to
// the salt so a later change of defaults does not break existing vaults.
type KDFParams struct {
	Time      uint32 `json:"time" yaml:"time" envconfig:"TIME" validate:"min=1"`
	MemoryKiB uint32 `json:"memory_kib" yaml:"memory_kib" envconfig:"MEMORY_KIB" validate:"min=8192"`
	Threads   uint8  `json:"threads" yaml:"threads" envconfig:"THREADS" validate:"min=1"`
}

// DefaultKDFParams: 3 passes over 64 MiB with 4 lanes.
var DefaultKDFParams = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// DeriveKey runs argon2id over password and salt. The result is
// deterministic for equal inputs.
func DeriveKey(password, salt []byte, p KDFParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", common.ErrKeyDerivation)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", common.ErrKeyDerivation, MinSaltSize)
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("%w: invalid parameters %+v", common.ErrKeyDerivation, p)
	}
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, KeySize), nil
}

// NewKey returns a fresh random 256-bit key.
func NewKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// NewSalt returns a fresh random salt.
func NewSalt() []byte {
	return common.GenerateRandByteArray(MinSaltSize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key with a fresh random nonce. aad is
// authenticated but not encrypted and may be nil.
func Seal(key, plaintext, aad []byte) (models.Sealed, error) {
	if len(key) != KeySize {
		return models.Sealed{}, fmt.Errorf("seal: key must be %d bytes", KeySize)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return models.Sealed{}, err
	}

	nonce := common.GenerateRandByteArray(NonceSize)

	out := aesgcm.Seal(nil, nonce, plaintext, aad)
	split := len(out) - TagSize

	return models.Sealed{
		Nonce:      nonce,
		Ciphertext: out[:split:split],
		Tag:        out[split:],
	}, nil
}

// Open verifies and decrypts s. Any failure, including malformed lengths,
// is reported as common.ErrAuthenticationFailure and no plaintext is returned.
func Open(key []byte, s models.Sealed, aad []byte) ([]byte, error) {
	if len(key) != KeySize || len(s.Nonce) != NonceSize || len(s.Tag) != TagSize {
		return nil, common.ErrAuthenticationFailure
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, common.ErrAuthenticationFailure
	}

	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)

	plaintext, err := aesgcm.Open(nil, s.Nonce, buf, aad)
	if err != nil {
		return nil, common.ErrAuthenticationFailure
	}
	return plaintext, nil
}
