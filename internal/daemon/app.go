// Package daemon wires the clipkeeper engine together and runs it: the
// clipboard monitor, the controller, the IPC server, the metrics endpoint
// and, when asked for, a REPL attached to the terminal.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/clipkeeper/internal/blobstore"
	"github.com/dmitrijs2005/clipkeeper/internal/cli"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/config"
	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/filter"
	"github.com/dmitrijs2005/clipkeeper/internal/ipc"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/metrics"
	"github.com/dmitrijs2005/clipkeeper/internal/monitor"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
	"github.com/dmitrijs2005/clipkeeper/internal/osclip"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/clipkeeper/internal/storage"
	"github.com/dmitrijs2005/clipkeeper/internal/vault"
)

// IPCClient is the client name written into the token file.
const IPCClient = "clipctl"

const secretSize = 32

// Clipboard is the system clipboard as seen by the daemon.
type Clipboard interface {
	monitor.Source
	controller.ClipboardWriter
}

type Option func(*App)

// WithClipboard replaces the system clipboard, e.g. on headless machines.
func WithClipboard(c Clipboard) Option {
	return func(a *App) { a.clip = c }
}

// WithPaster replaces the keystroke injector built from the paste command.
func WithPaster(p controller.Paster) Option {
	return func(a *App) { a.paster = p }
}

// WithREPL attaches an interactive shell reading from in. The daemon stops
// when the shell ends.
func WithREPL(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

// WithSignals controls whether Run listens for SIGINT and SIGTERM.
func WithSignals(on bool) Option {
	return func(a *App) { a.signals = on }
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	vault   *vault.Vault
	ctrl    *controller.Controller
	mon     *monitor.Monitor
	metrics *metrics.Metrics

	clip    Clipboard
	paster  controller.Paster
	in      io.Reader
	out     io.Writer
	signals bool
}

func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*App, error) {
	app := &App{config: cfg, logger: logger, signals: true}
	for _, o := range opts {
		o(app)
	}

	if app.clip == nil {
		if err := osclip.Init(); err != nil {
			return nil, err
		}
		c, err := osclip.New()
		if err != nil {
			return nil, err
		}
		app.clip = c
	}
	if app.paster == nil {
		p, err := osclip.NewPaster(cfg.PasteCommand, 0)
		if err != nil {
			return nil, err
		}
		app.paster = p
	}

	f, err := filter.FromOptions(cfg.Filter)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.New(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	db, err := storage.OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	meta := metadata.NewSQLiteRepository(db)
	var keys vault.KeyStore = vault.NewMetadataStore(meta)
	if !cfg.Keyring.Disabled {
		keys = vault.NewFallbackStore(vault.NewKeyringStore(cfg.Keyring.Service), keys, logger)
	}
	app.vault = vault.New(meta, keys, cfg.KDF, logger)
	app.metrics = metrics.New()

	// the monitor hands events to the controller, which in turn tells the
	// monitor what it writes to the clipboard
	var ctrl *controller.Controller
	app.mon = monitor.New(app.clip, blobs, func(ev monitor.Event) { ctrl.SubmitEvent(ev) }, monitor.Options{
		PollInterval: cfg.PollInterval.Duration,
		MaxItemSize:  cfg.MaxItemSize,
		Rate:         cfg.EventRate,
		Burst:        cfg.EventBurst,
	}, logger, app.metrics)

	ctrl = controller.New(controller.Deps{
		Store:      storage.New(db, app.vault, logger),
		Vault:      app.vault,
		Filter:     f,
		Bus:        notify.NewBus(),
		Clipboard:  app.clip,
		Paster:     app.paster,
		Suppressor: app.mon,
		Blobs:      blobs,
		Logger:     logger,
		Metrics:    app.metrics,
	}, controller.Options{
		CommandQueue:    cfg.CommandQueue,
		EventBuffer:     cfg.EventBuffer,
		PageSize:        cfg.PageSize,
		MaxHistoryItems: cfg.MaxHistoryItems,
		MaxHistoryAge:   cfg.MaxHistoryAge.Duration,
		PasteDelay:      cfg.PasteDelay.Duration,
	})
	app.ctrl = ctrl

	return app, nil
}

// Controller exposes the engine for in-process callers.
func (app *App) Controller() *controller.Controller { return app.ctrl }

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case s := <-sigs:
			app.logger.Info(ctx, "Received signal", "signal", s.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run blocks until ctx is done, a signal arrives, the REPL ends or a
// component fails. The database is closed on return.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	if app.signals {
		app.initSignalHandler(ctx, cancelFunc)
	}

	app.logger.Info(ctx, "Starting clipkeeper...", "data_dir", app.config.DataDir, "database", app.config.Database)
	if app.config.Hotkey != "" {
		app.logger.Info(ctx, "Picker hotkey", "hotkey", app.config.Hotkey)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.ctrl.Run(gctx) })
	g.Go(func() error { return app.mon.Run(gctx) })

	if app.config.MetricsAddr != "" {
		g.Go(func() error { return app.metrics.Serve(gctx, app.config.MetricsAddr) })
	}

	if app.config.IPC.Enabled {
		g.Go(func() error { return app.serveIPC(gctx) })
	}

	if app.in != nil {
		g.Go(func() error {
			defer cancelFunc()
			return cli.New(cli.Local{C: app.ctrl}, app.in, app.out, app.config.PageSize).Run(gctx)
		})
	}

	err := g.Wait()

	app.vault.Lock()
	if cerr := app.db.Close(); cerr != nil {
		app.logger.Error(ctx, "failed to close database", "error", cerr)
	}
	app.logger.Info(context.WithoutCancel(ctx), "clipkeeper stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (app *App) serveIPC(ctx context.Context) error {
	secret := common.GenerateRandByteArray(secretSize)
	defer common.WipeByteArray(secret)

	ttl := app.config.IPC.TokenTTL.Duration
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if _, err := ipc.IssueTokenFile(app.config.IPC.TokenFile, IPCClient, secret, ttl); err != nil {
		return fmt.Errorf("failed to issue ipc token: %w", err)
	}
	defer func() {
		if err := os.Remove(app.config.IPC.TokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			app.logger.Warn(ctx, "failed to remove token file", "error", err)
		}
	}()

	s := ipc.NewServer(app.config.IPC.Socket, app.ctrl, app.logger, secret)
	return s.Run(ctx)
}
