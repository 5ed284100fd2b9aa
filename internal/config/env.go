package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable, e.g. CLIPKEEPER_DATA_DIR or
// CLIPKEEPER_IPC_SOCKET.
const EnvPrefix = "CLIPKEEPER"

func parseEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}
