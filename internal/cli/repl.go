package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kballard/go-shellquote"
)

// execIface is the command surface the REPL dispatches to. *App implements
// it; tests use a stub.
type execIface interface {
	Recent(ctx context.Context, args []string) error
	More(ctx context.Context) error
	Search(ctx context.Context, args []string) error
	Paste(ctx context.Context, args []string) error
	Pin(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Snippets(ctx context.Context, args []string) error
	Snippet(ctx context.Context, args []string) error
	Categories(ctx context.Context, args []string) error
	Tag(ctx context.Context, args []string, remove bool) error
	Tags(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	ChangePassword(ctx context.Context) error
	Queue(ctx context.Context, args []string) error
	Next(ctx context.Context) error
	Evict(ctx context.Context) error
	Status(ctx context.Context) error
	printErr(err error)
}

const helpText = `commands:
  recent [n] | r        list recent history          more         next page
  search <text> | s     search history and snippets  paste <ref>  paste h:<id> or s:<id>
  pin <id>              toggle pin                   del <id>     delete history entry
  snippets [cat]        list snippets
  snippet add|edit <id>|show <id>|reveal <id>|del <id>
  cats [add <name> [locked]|del <id>]
  tag <name> <ref>      untag <name> <ref>           tags
  unlock | lock | passwd
  queue on|off          next                         evict        status
  help                  exit | quit`

var errUsage = errors.New("usage")

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// runREPL reads commands from reader until EOF, "exit"/"quit" or ctx is
// done. Lines are split like a shell, so quoted arguments keep their spaces.
// Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, reader *bufio.Reader, out io.Writer) {
	for ctx.Err() == nil {
		fmt.Fprint(out, "ck> ")
		line, err := reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			fmt.Fprintln(out)
			return
		}

		parts, perr := shellquote.Split(line)
		if perr != nil {
			fmt.Fprintln(out, "parse error:", perr)
			continue
		}
		if len(parts) == 0 {
			if err != nil {
				return
			}
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		var cerr error
		switch cmd {
		case "help", "?":
			fmt.Fprintln(out, helpText)
		case "r", "recent":
			cerr = a.Recent(ctx, args)
		case "more":
			cerr = a.More(ctx)
		case "s", "search":
			cerr = a.Search(ctx, args)
		case "p", "paste":
			cerr = a.Paste(ctx, args)
		case "pin":
			cerr = a.Pin(ctx, args)
		case "del", "delete":
			cerr = a.Delete(ctx, args)
		case "snippets":
			cerr = a.Snippets(ctx, args)
		case "snippet":
			cerr = a.Snippet(ctx, args)
		case "cats", "categories":
			cerr = a.Categories(ctx, args)
		case "tag":
			cerr = a.Tag(ctx, args, false)
		case "untag":
			cerr = a.Tag(ctx, args, true)
		case "tags":
			cerr = a.Tags(ctx)
		case "unlock":
			cerr = a.Unlock(ctx)
		case "lock":
			cerr = a.Lock(ctx)
		case "passwd":
			cerr = a.ChangePassword(ctx)
		case "queue":
			cerr = a.Queue(ctx, args)
		case "next":
			cerr = a.Next(ctx)
		case "evict":
			cerr = a.Evict(ctx)
		case "status":
			cerr = a.Status(ctx)
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		default:
			fmt.Fprintln(out, "Unknown command:", cmd)
		}

		if cerr != nil {
			if errors.Is(cerr, errUsage) {
				fmt.Fprintln(out, cerr)
			} else {
				a.printErr(cerr)
			}
		}
		if err != nil {
			return
		}
	}
}
