// Package osclip connects the engine to the operating system: the system
// clipboard (read, write, watch) and the external command that injects the
// paste keystroke.
package osclip

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.design/x/clipboard"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/monitor"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init prepares the clipboard backend. It fails on headless systems.
func Init() error {
	initOnce.Do(func() {
		if err := clipboard.Init(); err != nil {
			initErr = fmt.Errorf("%w: %w", common.ErrClipboard, err)
		}
	})
	return initErr
}

// Clipboard implements monitor.Source over the system clipboard and writes
// history items back to it.
type Clipboard struct{}

func New() (*Clipboard, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return &Clipboard{}, nil
}

// Changes merges the text and image watches into one signal channel.
func (c *Clipboard) Changes(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	text := clipboard.Watch(ctx, clipboard.FmtText)
	image := clipboard.Watch(ctx, clipboard.FmtImage)

	go func() {
		defer close(out)
		for text != nil || image != nil {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-text:
				if !ok {
					text = nil
					continue
				}
			case _, ok := <-image:
				if !ok {
					image = nil
					continue
				}
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

func (c *Clipboard) Read(ctx context.Context) (monitor.Payload, error) {
	if text := clipboard.Read(clipboard.FmtText); len(text) > 0 {
		s := string(text)
		if files := FileList(s); len(files) > 0 {
			return monitor.Payload{Files: files}, nil
		}
		return monitor.Payload{Text: s}, nil
	}
	if img := clipboard.Read(clipboard.FmtImage); len(img) > 0 {
		return monitor.Payload{Image: img}, nil
	}
	return monitor.Payload{}, nil
}

// Write puts a history item or snippet on the clipboard. Images are read
// back from the blob store; files are written as a file:// URI list.
func (c *Clipboard) Write(ctx context.Context, kind models.Kind, content string) error {
	switch kind {
	case models.KindText:
		clipboard.Write(clipboard.FmtText, []byte(content))
	case models.KindImageRef:
		b, err := os.ReadFile(content)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		clipboard.Write(clipboard.FmtImage, b)
	case models.KindFileRef:
		u := url.URL{Scheme: "file", Path: content}
		clipboard.Write(clipboard.FmtText, []byte(u.String()))
	default:
		return fmt.Errorf("%w: unsupported kind %s", common.ErrClipboard, kind)
	}
	return nil
}

// FileList returns the paths of text made only of file:// URIs pointing
// at existing files, one per line, as file managers put them on the
// clipboard. Any other text yields nil.
func FileList(text string) []string {
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "file://") {
			return nil
		}
		u, err := url.Parse(line)
		if err != nil || u.Path == "" {
			return nil
		}
		if _, err := os.Stat(u.Path); err != nil {
			return nil
		}
		files = append(files, u.Path)
	}
	return files
}
