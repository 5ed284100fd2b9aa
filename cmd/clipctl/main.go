package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dmitrijs2005/clipkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/clipkeeper/internal/cli"
	"github.com/dmitrijs2005/clipkeeper/internal/config"
	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/ipc"
)

const usage = `usage: clipctl [flags] [repl | watch | commands | version | COMMAND [JSON]]

  repl      interactive shell against the running daemon (default)
  watch     print daemon notifications as JSON lines
  commands  list command names
  COMMAND   run one command, e.g. clipctl search '{"query":"invoice"}'

flags:
  -c, -config FILE   config file shared with the daemon
  -d, -data-dir DIR  data directory
  -s, -socket PATH   daemon socket
`

func main() {
	os.Exit(run())
}

func run() int {
	args := os.Args[1:]
	rest := config.RemainingArgs(args)

	sub := "repl"
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
	case "commands":
		fmt.Println(strings.Join(controller.CommandNames(), "\n"))
		return 0
	}

	cfg, err := config.LoadConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	token, err := ipc.ReadTokenFile(cfg.IPC.TokenFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "is the daemon running? %v\n", err)
		return 1
	}

	client, err := ipc.Dial(cfg.IPC.Socket, token)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := cli.Remote{C: client}

	switch sub {
	case "repl":
		err = cli.New(backend, os.Stdin, os.Stdout, cfg.PageSize).Run(ctx)
	case "watch":
		err = cli.Watch(ctx, backend, os.Stdout)
	default:
		var cmd controller.Command
		cmd, err = cli.ParseCommand(sub, rest[1:])
		if err == nil {
			err = cli.ExecOnce(ctx, backend, cmd, os.Stdout)
		}
	}

	if err != nil {
		var kerr *controller.KindError
		if errors.As(err, &kerr) {
			fmt.Fprintf(os.Stderr, "error (%s): %s\n", kerr.Kind, kerr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}
