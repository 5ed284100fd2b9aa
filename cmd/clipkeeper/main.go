package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/awnumar/memguard"

	"github.com/dmitrijs2005/clipkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/clipkeeper/internal/config"
	"github.com/dmitrijs2005/clipkeeper/internal/daemon"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

const usage = `usage: clipkeeper [flags] [run|repl|version]

  run      start the daemon (default)
  repl     start the daemon with an interactive shell on this terminal
  version  print build information

flags:
  -c, -config FILE     JSON or YAML config file
  -d, -data-dir DIR    data directory
  -db FILE             database file
  -l, -log-level LVL   debug, info, warn or error
  -log-format FMT      text or json
  -s, -socket PATH     IPC socket
  -m, -metrics ADDR    serve /metrics on ADDR
  -paste-cmd CMD       command that sends the paste keystroke
  -max-items N         history size limit
`

func main() {
	os.Exit(run())
}

func run() int {
	defer memguard.Purge()

	args := os.Args[1:]
	rest := config.RemainingArgs(args)

	sub := "run"
	if len(rest) > 0 {
		sub = rest[0]
	}

	switch sub {
	case "version":
		buildinfo.PrintBuildData(os.Stdout)
		return 0
	case "help", "-h", "-help":
		fmt.Print(usage)
		return 0
	case "run", "repl":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", sub, usage)
		return 2
	}

	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	ctx := context.Background()

	var opts []daemon.Option
	if sub == "repl" {
		opts = append(opts, daemon.WithREPL(os.Stdin, os.Stdout))
	}

	app, err := daemon.NewApp(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Error(ctx, "failed to start", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "clipkeeper failed", "error", err)
		return 1
	}
	return 0
}
