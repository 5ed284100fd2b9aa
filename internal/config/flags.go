package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/clipkeeper/internal/flagx"
)

// Flags owned by the config loader. Everything else on the command line is
// left to the caller.
var ownFlags = []string{
	"-c", "-config",
	"-d", "-data-dir",
	"-db",
	"-l", "-log-level",
	"-log-format",
	"-s", "-socket",
	"-m", "-metrics",
	"-paste-cmd",
	"-max-items",
}

// RemainingArgs strips the config flags from args.
func RemainingArgs(args []string) []string {
	_, rest := flagx.Split(args, ownFlags)
	return rest
}

func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// parsed by parseFile
	fs.String("c", "", "config file")
	fs.String("config", "", "config file")

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.Database, "db", cfg.Database, "database file")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.StringVar(&cfg.IPC.Socket, "s", cfg.IPC.Socket, "ipc socket path")
	fs.StringVar(&cfg.IPC.Socket, "socket", cfg.IPC.Socket, "ipc socket path")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.PasteCommand, "paste-cmd", cfg.PasteCommand, "command that injects the paste keystroke")
	fs.IntVar(&cfg.MaxHistoryItems, "max-items", cfg.MaxHistoryItems, "unpinned history entries to keep, 0 for no limit")

	return fs.Parse(flagx.FilterArgs(args, ownFlags))
}
