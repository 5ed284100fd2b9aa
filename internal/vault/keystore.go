package vault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/metadata"
	"github.com/zalando/go-keyring"
)

// KeyStore keeps the wrapped data key. It never sees the data key itself.
// Load returns common.ErrNotFound when nothing was stored.
type KeyStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

const keyringUser = "wrapped-data-key"

// KeyringStore keeps the wrapped key in the OS secret store.
type KeyringStore struct {
	service string
}

func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Load(ctx context.Context) ([]byte, error) {
	v, err := keyring.Get(s.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("keyring value: %w", err)
	}
	return blob, nil
}

func (s *KeyringStore) Save(ctx context.Context, blob []byte) error {
	if err := keyring.Set(s.service, keyringUser, base64.StdEncoding.EncodeToString(blob)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

const metadataKey = "wrapped_key"

// MetadataStore keeps the wrapped key in the local metadata table, XORed
// with a fixed pad. The pad only keeps the blob from being recognizable at
// a glance; the wrapping itself is what protects the data key.
type MetadataStore struct {
	repo metadata.Repository
}

func NewMetadataStore(repo metadata.Repository) *MetadataStore {
	return &MetadataStore{repo: repo}
}

func obfuscate(b []byte) []byte {
	pad := sha256.Sum256([]byte(common.AppName + "/wrapped-key"))
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ pad[i%len(pad)]
	}
	return out
}

func (s *MetadataStore) Load(ctx context.Context) ([]byte, error) {
	v, err := s.repo.Get(ctx, metadataKey)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, common.ErrNotFound
	}
	return obfuscate(v), nil
}

func (s *MetadataStore) Save(ctx context.Context, blob []byte) error {
	return s.repo.Set(ctx, metadataKey, obfuscate(blob))
}

// FallbackStore prefers primary and uses secondary whenever primary is
// unavailable or does not have the blob.
type FallbackStore struct {
	primary   KeyStore
	secondary KeyStore
	logger    logging.Logger
}

func NewFallbackStore(primary, secondary KeyStore, l logging.Logger) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary, logger: l.With("module", "keystore")}
}

func (s *FallbackStore) Load(ctx context.Context) ([]byte, error) {
	blob, err := s.primary.Load(ctx)
	if err == nil {
		return blob, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		s.logger.Warn(ctx, "primary key store unavailable, using fallback", "error", err)
	}
	return s.secondary.Load(ctx)
}

func (s *FallbackStore) Save(ctx context.Context, blob []byte) error {
	err := s.primary.Save(ctx, blob)
	if err == nil {
		return nil
	}
	s.logger.Warn(ctx, "primary key store unavailable, saving to fallback", "error", err)
	return s.secondary.Save(ctx, blob)
}
