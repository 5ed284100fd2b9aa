package daemon

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/clipkeeper/internal/config"
	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/ipc"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/monitor"
	"github.com/dmitrijs2005/clipkeeper/internal/storage"
	"github.com/dmitrijs2005/clipkeeper/internal/timex"
)

type fakeClipboard struct {
	mu      sync.Mutex
	text    string
	written []string
}

func (f *fakeClipboard) Changes(context.Context) <-chan struct{} { return nil }

func (f *fakeClipboard) Read(context.Context) (monitor.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return monitor.Payload{Text: f.text}, nil
}

func (f *fakeClipboard) Write(_ context.Context, _ models.Kind, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = content
	f.written = append(f.written, content)
	return nil
}

func (f *fakeClipboard) set(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

func (f *fakeClipboard) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

type fakePaster struct {
	mu    sync.Mutex
	count int
}

func (p *fakePaster) Paste(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Database = filepath.Join(dir, "clipkeeper.db")
	cfg.BlobDir = filepath.Join(dir, "blobs")
	cfg.PollInterval = timex.D(10 * time.Millisecond)
	cfg.EventRate = 0
	cfg.PasteDelay = timex.D(0)
	cfg.KDF = cryptox.KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}
	cfg.Keyring.Disabled = true
	cfg.IPC.Socket = filepath.Join(dir, "clipkeeper.sock")
	cfg.IPC.TokenFile = filepath.Join(dir, "token")
	return cfg
}

func TestApp_RunServesIPC(t *testing.T) {
	cfg := testConfig(t)
	clip := &fakeClipboard{}
	paster := &fakePaster{}

	app, err := NewApp(context.Background(), cfg, logging.Nop(),
		WithClipboard(clip), WithPaster(paster), WithSignals(false))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.IPC.TokenFile)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	token, err := ipc.ReadTokenFile(cfg.IPC.TokenFile)
	require.NoError(t, err)

	var client *ipc.Client
	require.Eventually(t, func() bool {
		c, err := ipc.Dial(cfg.IPC.Socket, token)
		if err != nil {
			return false
		}
		var st controller.Status
		if err := c.Do(ctx, &controller.GetStatus{}, &st); err != nil {
			_ = c.Close()
			return false
		}
		client = c
		return true
	}, 5*time.Second, 20*time.Millisecond)
	defer client.Close()

	clip.set("copied in another window")

	var page storage.Page
	require.Eventually(t, func() bool {
		page = storage.Page{}
		if err := client.Do(ctx, &controller.ListRecent{}, &page); err != nil {
			return false
		}
		return len(page.Items) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "copied in another window", page.Items[0].Content)

	clip.set("something else")

	var res controller.PasteResult
	require.NoError(t, client.Do(ctx, &controller.PasteItem{Origin: models.OriginHistory, ID: page.Items[0].ID}, &res))
	assert.True(t, res.Keystroke)
	assert.Contains(t, clip.writes(), "copied in another window")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	_, err = os.Stat(cfg.IPC.TokenFile)
	assert.True(t, os.IsNotExist(err), "token file must be removed on shutdown")
}

func TestApp_REPLEndsDaemon(t *testing.T) {
	cfg := testConfig(t)
	cfg.IPC.Enabled = false

	out := &lockedBuffer{}
	app, err := NewApp(context.Background(), cfg, logging.Nop(),
		WithClipboard(&fakeClipboard{}), WithPaster(&fakePaster{}), WithSignals(false),
		WithREPL(strings.NewReader("status\n"), out))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after the shell ended")
	}

	assert.Contains(t, out.String(), "vault: locked")
	_, err = os.Stat(cfg.IPC.Socket)
	assert.True(t, os.IsNotExist(err))
}

func TestNewApp_RejectsBadPasteCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.PasteCommand = `xdotool "key`

	_, err := NewApp(context.Background(), cfg, logging.Nop(), WithClipboard(&fakeClipboard{}))
	require.Error(t, err)
}
