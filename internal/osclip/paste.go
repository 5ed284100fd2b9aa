package osclip

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ErrNoPasteCommand is returned by Paste when no command is configured.
var ErrNoPasteCommand = errors.New("no paste command configured")

// Paster injects the paste keystroke by running an external command such
// as `xdotool key ctrl+v` or `wtype -M ctrl v`.
type Paster struct {
	argv    []string
	timeout time.Duration
}

// NewPaster parses command with shell quoting rules. An empty command
// yields a Paster that always reports ErrNoPasteCommand.
func NewPaster(command string, timeout time.Duration) (*Paster, error) {
	argv, err := shellquote.Split(strings.TrimSpace(command))
	if err != nil {
		return nil, fmt.Errorf("parse paste command: %w", err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Paster{argv: argv, timeout: timeout}, nil
}

func (p *Paster) Command() []string { return append([]string(nil), p.argv...) }

func (p *Paster) Paste(ctx context.Context) error {
	if len(p.argv) == 0 {
		return ErrNoPasteCommand
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("paste command %q: %w: %s", shellquote.Join(p.argv...), err, strings.TrimSpace(string(out)))
	}
	return nil
}
