package metadata

import "context"

// Repository is a small key/value store for engine state that does not
// deserve its own table: vault salt and KDF parameters, the wrapped key
// fallback blob and initialization markers.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}
