package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/controller"
)

// ParseCommand builds the command called name from a JSON object given as
// args, e.g. `search {"query":"foo"}`. No args leaves the command zero.
func ParseCommand(name string, args []string) (controller.Command, error) {
	cmd, err := controller.NewCommand(name)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(strings.Join(args, " "))
	if raw == "" {
		return cmd, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s arguments: %w", common.ErrInvalidCommand, name, err)
	}
	return cmd, nil
}

// ExecOnce runs one command and writes its value to out as indented JSON.
func ExecOnce(ctx context.Context, b Backend, cmd controller.Command, out io.Writer) error {
	var value json.RawMessage
	if err := b.Exec(ctx, cmd, &value); err != nil {
		return err
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, value, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}

// Watch writes every notification to out, one JSON object per line, until
// ctx is done or the stream ends.
func Watch(ctx context.Context, b Backend, out io.Writer) error {
	ch, err := b.Notifications(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if err := enc.Encode(n); err != nil {
				return err
			}
		}
	}
}
