// Package config loads the runtime settings of the clipkeeper daemon.
//
// Sources are applied in order, later ones overriding earlier ones:
//
//  1. built-in defaults (Default)
//  2. an optional JSON or YAML file named with -c or -config
//  3. CLIPKEEPER_* environment variables
//  4. command-line flags
//
// Paths may start with ~. Empty derived paths (database, blob dir, socket,
// token file) are placed inside the data directory.
package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/filter"
	"github.com/dmitrijs2005/clipkeeper/internal/timex"
)

type IPC struct {
	Enabled   bool           `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	Socket    string         `json:"socket" yaml:"socket" envconfig:"SOCKET"`
	TokenFile string         `json:"token_file" yaml:"token_file" envconfig:"TOKEN_FILE"`
	TokenTTL  timex.Duration `json:"token_ttl" yaml:"token_ttl" envconfig:"TOKEN_TTL"`
}

type Keyring struct {
	Service  string `json:"service" yaml:"service" envconfig:"SERVICE" validate:"required"`
	Disabled bool   `json:"disabled" yaml:"disabled" envconfig:"DISABLED"`
}

type Config struct {
	DataDir   string `json:"data_dir" yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	Database  string `json:"database" yaml:"database" envconfig:"DATABASE"`
	BlobDir   string `json:"blob_dir" yaml:"blob_dir" envconfig:"BLOB_DIR"`
	LogLevel  string `json:"log_level" yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" yaml:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=text json"`

	// Hotkey is handed to the desktop integration; the engine only reports it.
	Hotkey string `json:"hotkey" yaml:"hotkey" envconfig:"HOTKEY"`

	PollInterval    timex.Duration `json:"poll_interval" yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	MaxItemSize     int64          `json:"max_item_size" yaml:"max_item_size" envconfig:"MAX_ITEM_SIZE" validate:"gte=0"`
	EventRate       float64        `json:"event_rate" yaml:"event_rate" envconfig:"EVENT_RATE" validate:"gte=0"`
	EventBurst      int            `json:"event_burst" yaml:"event_burst" envconfig:"EVENT_BURST" validate:"gte=0"`
	MaxHistoryItems int            `json:"max_history_items" yaml:"max_history_items" envconfig:"MAX_HISTORY_ITEMS" validate:"gte=0"`
	MaxHistoryAge   timex.Duration `json:"max_history_age" yaml:"max_history_age" envconfig:"MAX_HISTORY_AGE"`
	PageSize        int            `json:"page_size" yaml:"page_size" envconfig:"PAGE_SIZE" validate:"gte=1,lte=1000"`
	CommandQueue    int            `json:"command_queue" yaml:"command_queue" envconfig:"COMMAND_QUEUE" validate:"gte=1"`
	EventBuffer     int            `json:"event_buffer" yaml:"event_buffer" envconfig:"EVENT_BUFFER" validate:"gte=1"`
	PasteCommand    string         `json:"paste_command" yaml:"paste_command" envconfig:"PASTE_COMMAND"`
	PasteDelay      timex.Duration `json:"paste_delay" yaml:"paste_delay" envconfig:"PASTE_DELAY"`

	Filter  filter.Options    `json:"filter" yaml:"filter" envconfig:"FILTER"`
	KDF     cryptox.KDFParams `json:"kdf" yaml:"kdf" envconfig:"KDF"`
	Keyring Keyring           `json:"keyring" yaml:"keyring" envconfig:"KEYRING"`
	IPC     IPC               `json:"ipc" yaml:"ipc" envconfig:"IPC"`

	// MetricsAddr enables the /metrics endpoint when set.
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr" envconfig:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		DataDir:         "~/." + common.AppName,
		LogLevel:        "info",
		LogFormat:       "text",
		PollInterval:    timex.D(500 * time.Millisecond),
		MaxItemSize:     10 << 20,
		EventRate:       5,
		EventBurst:      3,
		MaxHistoryItems: 1000,
		PageSize:        50,
		CommandQueue:    64,
		EventBuffer:     32,
		PasteDelay:      timex.D(100 * time.Millisecond),
		Filter:          filter.DefaultOptions(),
		KDF:             cryptox.DefaultKDFParams,
		Keyring:         Keyring{Service: common.AppName},
		IPC:             IPC{Enabled: true, TokenTTL: timex.D(30 * 24 * time.Hour)},
	}
}

// LoadConfig builds the configuration from args (without the program name)
// and the environment.
func LoadConfig(args []string) (*Config, error) {
	cfg := Default()

	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths() error {
	dir, err := expand(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir

	for _, p := range []struct {
		field *string
		def   string
	}{
		{&c.Database, common.AppName + ".db"},
		{&c.BlobDir, "blobs"},
		{&c.IPC.Socket, common.AppName + ".sock"},
		{&c.IPC.TokenFile, "token"},
	} {
		if *p.field == "" {
			*p.field = filepath.Join(dir, p.def)
			continue
		}
		if *p.field, err = expand(*p.field); err != nil {
			return err
		}
	}
	return nil
}
