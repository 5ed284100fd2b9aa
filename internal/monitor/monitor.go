// Package monitor watches the system clipboard and turns changes into
// capture events for the controller. It normalizes and fingerprints
// payloads, writes binary payloads to the blob store, skips repeats of the
// previous payload and limits how fast events are emitted.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/clipkeeper/internal/blobstore"
	"github.com/dmitrijs2005/clipkeeper/internal/fingerprint"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/metrics"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// Payload is what a Source read from the clipboard. Exactly one of Text,
// Image or Files is set.
type Payload struct {
	Text      string
	Image     []byte
	Files     []string
	SourceApp string
}

func (p Payload) Empty() bool {
	return p.Text == "" && len(p.Image) == 0 && len(p.Files) == 0
}

// Source is the OS clipboard as seen by the monitor.
type Source interface {
	// Changes signals clipboard changes. A nil channel makes the monitor
	// poll instead.
	Changes(ctx context.Context) <-chan struct{}
	Read(ctx context.Context) (Payload, error)
}

// Event is one captured clipboard item. Content is normalized text or the
// blob store path of an image or file.
type Event struct {
	Kind       models.Kind `json:"kind"`
	Content    string      `json:"content"`
	Hash       string      `json:"hash"`
	SourceApp  string      `json:"source_app,omitempty"`
	Size       int64       `json:"size"`
	CapturedAt time.Time   `json:"captured_at"`
}

type Options struct {
	PollInterval time.Duration
	MaxItemSize  int64
	// Rate is the sustained number of events per second; Burst how many may
	// go out back to back. Rate <= 0 disables limiting.
	Rate  float64
	Burst int
}

func DefaultOptions() Options {
	return Options{
		PollInterval: 500 * time.Millisecond,
		MaxItemSize:  10 << 20,
		Rate:         5,
		Burst:        3,
	}
}

type Monitor struct {
	src     Source
	blobs   *blobstore.Store
	sink    func(Event)
	opts    Options
	logger  logging.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]struct{}
}

// New creates a monitor that hands events to sink. sink must not block.
// blobs may be nil, in which case images and files are ignored.
func New(src Source, blobs *blobstore.Store, sink func(Event), opts Options, l logging.Logger, m *metrics.Metrics) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Monitor{
		src:      src,
		blobs:    blobs,
		sink:     sink,
		opts:     opts,
		logger:   l.With("module", "monitor"),
		metrics:  m,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		now:      time.Now,
		lastSeen: map[string]struct{}{},
	}
}

// Suppress marks hash as the current clipboard content so writing it to
// the clipboard does not produce a capture.
func (m *Monitor) Suppress(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen = map[string]struct{}{hash: {}}
}

// Run watches the source until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	changes := m.src.Changes(ctx)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	poll := func() {
		ticker = time.NewTicker(m.opts.PollInterval)
		tick = ticker.C
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	if changes == nil {
		poll()
	}

	// pending holds the events of the latest change that the limiter has
	// not let through yet. Its head owns the reservation flush waits for.
	var (
		pending []Event
		flush   *time.Timer
		flushC  <-chan time.Time
	)
	defer func() {
		if flush != nil {
			flush.Stop()
		}
	}()
	release := func() {
		for len(pending) > 0 {
			if d := m.limiter.Reserve().Delay(); d > 0 {
				flush = time.NewTimer(d)
				flushC = flush.C
				return
			}
			m.emit(pending[0])
			pending = pending[1:]
		}
		pending = nil
	}

	m.logger.Info(ctx, "clipboard monitor started", "polling", changes == nil)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "clipboard monitor stopped")
			return nil

		case _, ok := <-changes:
			if !ok {
				changes = nil
				poll()
				m.logger.Warn(ctx, "clipboard watch ended, falling back to polling")
				continue
			}

		case <-tick:

		case <-flushC:
			flushC, flush = nil, nil
			if len(pending) > 0 {
				m.emit(pending[0])
				pending = pending[1:]
			}
			release()
			continue
		}

		events := m.Check(ctx)
		if len(events) == 0 {
			continue
		}
		if flushC != nil {
			// a newer change replaces what an older one still has waiting
			for range pending {
				m.skip("rate_limited")
			}
			pending = events
			continue
		}
		pending = events
		release()
	}
}

func (m *Monitor) emit(ev Event) {
	if m.metrics != nil {
		m.metrics.CapturesTotal.WithLabelValues(ev.Kind.String()).Inc()
	}
	m.sink(ev)
}

func (m *Monitor) skip(reason string) {
	if m.metrics != nil {
		m.metrics.CaptureSkipped.WithLabelValues(reason).Inc()
	}
}

// Check reads the clipboard once and returns the events it yields, without
// rate limiting. Repeats of the previous payload yield nothing.
func (m *Monitor) Check(ctx context.Context) []Event {
	p, err := m.src.Read(ctx)
	if err != nil {
		m.logger.Warn(ctx, "failed to read clipboard", "error", err)
		m.skip("read_error")
		return nil
	}
	if p.Empty() {
		return nil
	}

	items, err := m.prepare(p)
	if err != nil {
		m.logger.Warn(ctx, "failed to capture clipboard", "error", err)
		m.skip("capture_error")
		return nil
	}

	m.mu.Lock()
	seen := m.lastSeen
	next := make(map[string]struct{}, len(items))
	var fresh []item
	for _, it := range items {
		next[it.hash] = struct{}{}
		if _, ok := seen[it.hash]; !ok {
			fresh = append(fresh, it)
		}
	}
	m.lastSeen = next
	m.mu.Unlock()

	if len(fresh) == 0 {
		m.skip("unchanged")
		return nil
	}

	now := m.now()
	events := make([]Event, 0, len(fresh))
	for _, it := range fresh {
		if m.opts.MaxItemSize > 0 && it.size > m.opts.MaxItemSize {
			m.logger.Info(ctx, "clipboard item too large", "size", it.size, "max", m.opts.MaxItemSize)
			m.skip("too_large")
			continue
		}

		ev, err := m.store(it)
		if err != nil {
			m.logger.Warn(ctx, "failed to store clipboard payload", "error", err)
			m.skip("capture_error")
			continue
		}
		ev.SourceApp = p.SourceApp
		ev.CapturedAt = now
		events = append(events, ev)
	}
	return events
}

// item is a fingerprinted payload not yet written anywhere.
type item struct {
	kind models.Kind
	hash string
	size int64
	text string
	data []byte
	path string
}

var errNoBlobStore = errors.New("no blob store configured")

func (m *Monitor) prepare(p Payload) ([]item, error) {
	switch {
	case p.Text != "":
		norm, hash := fingerprint.Text(p.Text)
		if norm == "" {
			return nil, nil
		}
		return []item{{kind: models.KindText, hash: hash, size: int64(len(norm)), text: norm}}, nil

	case len(p.Image) > 0:
		if m.blobs == nil {
			return nil, errNoBlobStore
		}
		return []item{{
			kind: models.KindImageRef,
			hash: fingerprint.Bytes(models.KindImageRef, p.Image),
			size: int64(len(p.Image)),
			data: p.Image,
		}}, nil

	default:
		if m.blobs == nil {
			return nil, errNoBlobStore
		}
		items := make([]item, 0, len(p.Files))
		for _, f := range p.Files {
			fi, err := os.Stat(f)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", f, err)
			}
			if fi.IsDir() {
				continue
			}
			hash, err := fingerprint.File(models.KindFileRef, f)
			if err != nil {
				return nil, err
			}
			items = append(items, item{kind: models.KindFileRef, hash: hash, size: fi.Size(), path: f})
		}
		return items, nil
	}
}

func (m *Monitor) store(it item) (Event, error) {
	ev := Event{Kind: it.kind, Hash: it.hash, Size: it.size}
	switch it.kind {
	case models.KindText:
		ev.Content = it.text
	case models.KindImageRef:
		path, err := m.blobs.Put(it.hash, ".png", bytes.NewReader(it.data))
		if err != nil {
			return ev, err
		}
		ev.Content = path
	case models.KindFileRef:
		path, err := m.blobs.PutFile(it.hash, it.path)
		if err != nil {
			return ev, err
		}
		ev.Content = path
	}
	return ev, nil
}
