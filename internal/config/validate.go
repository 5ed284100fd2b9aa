package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/clipkeeper/internal/filter"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the filter rules compile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("invalid config: poll_interval must be positive")
	}
	if c.MaxHistoryAge.Duration < 0 || c.PasteDelay.Duration < 0 {
		return fmt.Errorf("invalid config: negative duration")
	}
	if c.IPC.Enabled && c.IPC.TokenTTL.Duration <= 0 {
		return fmt.Errorf("invalid config: ipc.token_ttl must be positive")
	}
	if _, err := filter.FromOptions(c.Filter); err != nil {
		return fmt.Errorf("invalid config: filter: %w", err)
	}
	return nil
}
