// Package controller is the single serialization point of the engine.
// Clipboard events from the monitor and commands from UI collaborators are
// funnelled into one consumer goroutine that applies them, one at a time,
// against storage and the vault, and publishes the outcome on the
// notification bus.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/filter"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/metrics"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/monitor"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/history"
	"github.com/dmitrijs2005/clipkeeper/internal/storage"
)

type State int32

const (
	Idle State = iota
	Processing
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// Store is the persistence the controller drives. *storage.Store implements it.
type Store interface {
	InsertHistory(ctx context.Context, e *models.HistoryEntry) (storage.Outcome, error)
	FindByHash(ctx context.Context, hash string) (*models.HistoryEntry, error)
	GetHistory(ctx context.Context, id int64) (*models.HistoryEntry, error)
	ListRecent(ctx context.Context, after *history.Cursor, limit int) (storage.Page, error)
	Search(ctx context.Context, query string, scope storage.Scope, limit int) ([]models.SearchResult, error)
	TogglePinned(ctx context.Context, id int64) (*models.HistoryEntry, error)
	DeleteHistory(ctx context.Context, id int64) (*models.HistoryEntry, error)
	EvictHistory(ctx context.Context, maxItems int, maxAge time.Duration) ([]models.HistoryEntry, error)

	UpsertSnippet(ctx context.Context, sn *models.Snippet) error
	GetSnippet(ctx context.Context, id int64, reveal bool) (*models.Snippet, error)
	ListSnippets(ctx context.Context, categoryID int64, includeLocked bool) ([]models.Snippet, error)
	IncrementUsage(ctx context.Context, id int64) error
	DeleteSnippet(ctx context.Context, id int64) error

	CreateCategory(ctx context.Context, c *models.Category) error
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	TagItem(ctx context.Context, name string, itemID int64, t models.ItemType) error
	UntagItem(ctx context.Context, name string, itemID int64, t models.ItemType) error
	ListTags(ctx context.Context) ([]models.Tag, error)

	CheckIndex(ctx context.Context) (int, error)
	RebuildIndex(ctx context.Context) error
}

// Vault is the session side of the crypto vault. *vault.Vault implements it.
type Vault interface {
	Unlock(ctx context.Context, password []byte) error
	ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error
	Lock()
	IsLocked() bool
	CheckUnlocked() error
}

type Classifier interface {
	Classify(in filter.Input) filter.Decision
}

// ClipboardWriter puts content on the system clipboard.
type ClipboardWriter interface {
	Write(ctx context.Context, kind models.Kind, content string) error
}

// Paster injects the paste keystroke after the clipboard was set.
type Paster interface {
	Paste(ctx context.Context) error
}

// Suppressor is told which hash is about to be written to the clipboard so
// the write is not captured again.
type Suppressor interface {
	Suppress(hash string)
}

// BlobRemover deletes blob files of removed history entries.
type BlobRemover interface {
	Remove(path string) error
}

type Deps struct {
	Store      Store
	Vault      Vault
	Filter     Classifier
	Bus        *notify.Bus
	Clipboard  ClipboardWriter
	Paster     Paster
	Suppressor Suppressor
	Blobs      BlobRemover
	Logger     logging.Logger
	Metrics    *metrics.Metrics
}

type Options struct {
	CommandQueue int
	EventBuffer  int
	PageSize     int
	// MaxHistoryItems and MaxHistoryAge bound unpinned history after every
	// capture; zero disables a limit.
	MaxHistoryItems int
	MaxHistoryAge   time.Duration
	// PasteDelay is waited between setting the clipboard and the keystroke.
	PasteDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		CommandQueue: 64,
		EventBuffer:  32,
		PageSize:     storage.DefaultPageSize,
		PasteDelay:   100 * time.Millisecond,
	}
}

// Result is the answer to one command.
type Result struct {
	CommandID string
	Command   string
	Value     any
	Err       error
}

type request struct {
	id    string
	cmd   Command
	ctx   context.Context
	reply chan Result
}

type Controller struct {
	d    Deps
	opts Options
	log  logging.Logger

	cmds   chan request
	events *eventQueue

	// closing guards closed and senders; it is never held across a send.
	closing sync.RWMutex
	closed  bool
	senders sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
	finished chan struct{}

	stateMu sync.RWMutex
	state   State

	// owned by the consumer goroutine
	queueMode  bool
	pasteQueue []int64
}

func New(d Deps, opts Options) *Controller {
	def := DefaultOptions()
	if opts.CommandQueue <= 0 {
		opts.CommandQueue = def.CommandQueue
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Bus == nil {
		d.Bus = notify.NewBus()
	}

	return &Controller{
		d:        d,
		opts:     opts,
		log:      d.Logger.With("module", "controller"),
		cmds:     make(chan request, opts.CommandQueue),
		events:   newEventQueue(opts.EventBuffer),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (c *Controller) Bus() *notify.Bus { return c.d.Bus }

func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != ShuttingDown {
		c.state = s
	}
}

// Submit queues cmd and returns its id. It blocks only while the command
// queue is full and never drops a command.
func (c *Controller) Submit(ctx context.Context, cmd Command) (string, error) {
	req, err := c.enqueue(ctx, cmd, nil)
	if err != nil {
		return "", err
	}
	return req.id, nil
}

// Do queues cmd and waits for its result. Cancelling ctx stops the wait,
// not the command.
func (c *Controller) Do(ctx context.Context, cmd Command) (Result, error) {
	req, err := c.enqueue(ctx, cmd, make(chan Result, 1))
	if err != nil {
		return Result{}, err
	}

	select {
	case res := <-req.reply:
		return res, res.Err
	case <-c.finished:
		// the reply may have raced with shutdown
		select {
		case res := <-req.reply:
			return res, res.Err
		default:
		}
		return Result{CommandID: req.id, Command: cmd.Name()}, common.ErrShuttingDown
	case <-ctx.Done():
		return Result{CommandID: req.id, Command: cmd.Name()}, ctx.Err()
	}
}

func (c *Controller) enqueue(ctx context.Context, cmd Command, reply chan Result) (request, error) {
	if err := Validate(cmd); err != nil {
		return request{}, err
	}

	req := request{
		id:    uuid.NewString(),
		cmd:   cmd,
		ctx:   context.WithoutCancel(ctx),
		reply: reply,
	}

	c.closing.RLock()
	if c.closed {
		c.closing.RUnlock()
		return request{}, common.ErrShuttingDown
	}
	c.senders.Add(1)
	c.closing.RUnlock()
	defer c.senders.Done()

	select {
	case c.cmds <- req:
		return req, nil
	case <-c.stop:
		return request{}, common.ErrShuttingDown
	case <-ctx.Done():
		return request{}, ctx.Err()
	}
}

// SubmitEvent hands a capture to the controller. It never blocks.
func (c *Controller) SubmitEvent(ev monitor.Event) {
	switch c.events.push(ev) {
	case coalesced:
		if c.d.Metrics != nil {
			c.d.Metrics.EventsCoalesced.Inc()
		}
	case droppedOldest:
		if c.d.Metrics != nil {
			c.d.Metrics.EventsDropped.Inc()
		}
	}
	if c.d.Metrics != nil {
		c.d.Metrics.QueueDepth.Set(float64(c.events.len()))
	}
}

// Recent lists history directly from storage, outside the queue. SQLite
// gives it a consistent snapshot.
func (c *Controller) Recent(ctx context.Context, after *history.Cursor, limit int) (storage.Page, error) {
	if limit <= 0 {
		limit = c.opts.PageSize
	}
	return c.d.Store.ListRecent(ctx, after, limit)
}

// Run processes commands and events until ctx is done or Shutdown is
// called, then drains what is queued, locks the vault and closes the bus.
func (c *Controller) Run(ctx context.Context) error {
	c.startup(ctx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown(context.WithoutCancel(ctx))
			return nil
		case <-c.stop:
			c.shutdown(context.WithoutCancel(ctx))
			return nil
		case req := <-c.cmds:
			c.handle(req)
		case <-c.events.ready:
			c.processEvents(ctx)
		}
	}
}

// Shutdown asks Run to finish and waits until it has.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	select {
	case <-c.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the controller has shut down.
func (c *Controller) Done() <-chan struct{} { return c.finished }

func (c *Controller) startup(ctx context.Context) {
	drift, err := c.d.Store.CheckIndex(ctx)
	switch {
	case err != nil:
		c.log.Error(ctx, "search index check failed", "error", err)
	case drift > 0:
		c.log.Warn(ctx, "search index diverged, rebuilding", "rows", drift)
		if err := c.d.Store.RebuildIndex(ctx); err != nil {
			c.log.Error(ctx, "search index rebuild failed", "error", err)
		}
	}
	c.updateVaultGauge()
	c.publish(notify.Notification{Kind: notify.ListUpdated, Message: "startup"})
	c.log.Info(ctx, "controller started")
}

func (c *Controller) shutdown(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stop) })
	c.closing.Lock()
	c.closed = true
	c.closing.Unlock()
	c.events.close()

	// Producers already past the closed check either land in cmds or
	// give up on stop. Keep consuming until all of them have returned.
	sent := make(chan struct{})
	go func() {
		c.senders.Wait()
		close(sent)
	}()
	for waiting := true; waiting; {
		select {
		case req := <-c.cmds:
			c.handle(req)
		case <-sent:
			waiting = false
		}
	}
	for drained := false; !drained; {
		select {
		case req := <-c.cmds:
			c.handle(req)
		default:
			drained = true
		}
	}
	c.processEvents(ctx)

	c.d.Vault.Lock()
	c.updateVaultGauge()

	c.stateMu.Lock()
	c.state = ShuttingDown
	c.stateMu.Unlock()

	c.log.Info(ctx, "controller stopped")
	c.d.Bus.Close()
	close(c.finished)
}

func (c *Controller) processEvents(ctx context.Context) {
	for {
		ev, ok := c.events.pop()
		if !ok {
			break
		}
		c.handleEvent(ctx, ev)
	}
	if c.d.Metrics != nil {
		c.d.Metrics.QueueDepth.Set(0)
	}
}

func (c *Controller) publish(n notify.Notification) {
	c.d.Bus.Publish(n)
}

func (c *Controller) info(req *request, format string, args ...any) {
	n := notify.Notification{Kind: notify.Info, Message: fmt.Sprintf(format, args...)}
	if req != nil {
		n.CommandID, n.Command = req.id, req.cmd.Name()
	}
	c.publish(n)
}

func (c *Controller) updateVaultGauge() {
	if c.d.Metrics == nil {
		return
	}
	if c.d.Vault.IsLocked() {
		c.d.Metrics.VaultLocked.Set(1)
	} else {
		c.d.Metrics.VaultLocked.Set(0)
	}
}

// handle runs one command to completion. A failure or panic is reported and
// the controller returns to Idle.
func (c *Controller) handle(req request) {
	c.setState(Processing)
	defer c.setState(Idle)

	start := time.Now()
	value, err := c.safeDispatch(&req)
	res := Result{CommandID: req.id, Command: req.cmd.Name(), Value: value, Err: err}

	outcome := "ok"
	if err != nil {
		kind := ClassifyError(err)
		outcome = string(kind)
		c.log.Warn(req.ctx, "command failed", "command", req.cmd.Name(), "id", req.id, "kind", kind, "error", err)
		c.publish(notify.Notification{
			Kind:      notify.OperationFailed,
			CommandID: req.id,
			Command:   req.cmd.Name(),
			Failure:   string(kind),
			Message:   err.Error(),
		})
	}
	c.d.Metrics.ObserveCommand(req.cmd.Name(), outcome, time.Since(start))

	if req.reply != nil {
		req.reply <- res
	}
}

func (c *Controller) safeDispatch(req *request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(req.ctx, "panic in command handler", "command", req.cmd.Name(), "panic", r)
			value, err = nil, fmt.Errorf("panic in %s: %v", req.cmd.Name(), r)
		}
	}()
	return c.dispatch(req)
}
