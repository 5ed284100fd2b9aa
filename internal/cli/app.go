// Package cli is a line-oriented text UI for the clipboard engine. Every
// action is sent to the controller as a command; results are printed, and
// asynchronous notifications (captures, info messages, capture failures)
// are printed as they arrive.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/history"
)

const previewWidth = 60

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type App struct {
	backend  Backend
	reader   *bufio.Reader
	out      io.Writer
	pageSize int

	// next is the cursor of the following "more" page
	next *history.Cursor
}

func New(b Backend, in io.Reader, out io.Writer, pageSize int) *App {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &App{
		backend:  b,
		reader:   bufio.NewReader(in),
		out:      &syncWriter{w: out},
		pageSize: pageSize,
	}
}

// Run prints notifications in the background and runs the REPL until the
// input ends, the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := a.backend.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch notifications: %w", err)
	}
	go a.printNotifications(ctx, ch)

	a.printf("clipkeeper - type help for commands\n")
	runREPL(ctx, a, a.reader, a.out)
	return nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) printNotifications(ctx context.Context, ch <-chan notify.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			a.printNotification(n)
		}
	}
}

func (a *App) printNotification(n notify.Notification) {
	switch n.Kind {
	case notify.Info:
		a.printf("~ %s\n", n.Message)
	case notify.OperationFailed:
		// command failures are reported with the command result
		if n.CommandID == "" {
			a.printf("! %s: %s\n", n.Failure, n.Message)
		}
	case notify.ListUpdated:
		if n.Entry != nil && n.CommandID == "" {
			a.printf("+ %s\n", formatEntry(*n.Entry))
		}
	}
}

func (a *App) printErr(err error) {
	var kerr *controller.KindError
	if errors.As(err, &kerr) {
		a.printf("error (%s): %s\n", kerr.Kind, kerr.Message)
		return
	}
	a.printf("error (%s): %v\n", controller.ClassifyError(err), err)
}

func formatEntry(e models.HistoryEntry) string {
	var flags string
	if e.Pinned {
		flags += "*"
	}
	if e.Sensitive {
		flags += "!"
	}
	if e.Kind != models.KindText {
		flags += e.Kind.String() + " "
	}
	line := fmt.Sprintf("[%d] %s%s", e.ID, flags, e.Preview(previewWidth))
	if e.SourceApp != "" {
		line += "  <" + e.SourceApp + ">"
	}
	return line
}

func formatSnippet(s models.Snippet) string {
	content := models.Shorten(s.Content, previewWidth)
	if s.Masked {
		content = "••••••••"
	}
	return fmt.Sprintf("[s:%d] %s = %s  (cat %d, used %d)", s.ID, s.Title, content, s.CategoryID, s.UsageCount)
}

// parseRef reads "12", "h:12" or "s:3".
func parseRef(s string) (models.Origin, int64, error) {
	origin := models.OriginHistory
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch prefix {
		case "h":
		case "s":
			origin = models.OriginSnippet
		default:
			return "", 0, fmt.Errorf("unknown item prefix %q", prefix)
		}
		s = rest
	}
	id, err := parseID(s)
	return origin, id, err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func itemType(o models.Origin) models.ItemType {
	if o == models.OriginSnippet {
		return models.ItemSnippet
	}
	return models.ItemHistory
}
