package controller

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/filter"
	"github.com/dmitrijs2005/clipkeeper/internal/fingerprint"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/metrics"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/monitor"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/clipkeeper/internal/storage"
	"github.com/dmitrijs2005/clipkeeper/internal/vault"
)

var testParams = cryptox.KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}

const (
	catGeneral   int64 = 1
	catPasswords int64 = 2
)

type clipWrite struct {
	kind    models.Kind
	content string
}

type fakeClipboard struct {
	mu     sync.Mutex
	writes []clipWrite
	err    error
}

func (f *fakeClipboard) Write(_ context.Context, kind models.Kind, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, clipWrite{kind, content})
	return nil
}

func (f *fakeClipboard) Writes() []clipWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]clipWrite(nil), f.writes...)
}

type fakePaster struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakePaster) Paste(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.err
}

func (f *fakePaster) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type fakeSuppressor struct {
	mu     sync.Mutex
	hashes []string
}

func (f *fakeSuppressor) Suppress(h string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes = append(f.hashes, h)
}

type fakeBlobs struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeBlobs) Remove(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, p)
	return nil
}

func (f *fakeBlobs) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type harness struct {
	c         *Controller
	store     *storage.Store
	vault     *vault.Vault
	sub       *notify.Subscription
	clip      *fakeClipboard
	paster    *fakePaster
	suppress  *fakeSuppressor
	blobs     *fakeBlobs
	metrics   *metrics.Metrics
	runResult chan error
}

func newHarness(t *testing.T, opts Options, mods ...func(*Deps)) *harness {
	t.Helper()
	keyring.MockInit()
	ctx := context.Background()

	db, err := storage.OpenDB(ctx, filepath.Join(t.TempDir(), "clipkeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	meta := metadata.NewSQLiteRepository(db)
	keys := vault.NewFallbackStore(vault.NewKeyringStore("clipkeeper-test"), vault.NewMetadataStore(meta), logging.Nop())
	v := vault.New(meta, keys, testParams, logging.Nop())

	fo := filter.DefaultOptions()
	fo.SourceApps = []string{"KeePassXC"}
	f, err := filter.FromOptions(fo)
	require.NoError(t, err)

	h := &harness{
		store:     storage.New(db, v, logging.Nop()),
		vault:     v,
		clip:      &fakeClipboard{},
		paster:    &fakePaster{},
		suppress:  &fakeSuppressor{},
		blobs:     &fakeBlobs{},
		metrics:   metrics.New(),
		runResult: make(chan error, 1),
	}

	bus := notify.NewBus()
	h.sub = bus.Subscribe(512)

	d := Deps{
		Store:      h.store,
		Vault:      v,
		Filter:     f,
		Bus:        bus,
		Clipboard:  h.clip,
		Paster:     h.paster,
		Suppressor: h.suppress,
		Blobs:      h.blobs,
		Logger:     logging.Nop(),
		Metrics:    h.metrics,
	}
	for _, mod := range mods {
		mod(&d)
	}
	h.c = New(d, opts)

	go func() { h.runResult <- h.c.Run(context.Background()) }()
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.c.Shutdown(sctx)
	})
	return h
}

func (h *harness) do(t *testing.T, cmd Command) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, _ := h.c.Do(ctx, cmd)
	return res
}

func (h *harness) mustDo(t *testing.T, cmd Command) any {
	t.Helper()
	res := h.do(t, cmd)
	require.NoError(t, res.Err, "command %s", cmd.Name())
	return res.Value
}

func (h *harness) recent(t *testing.T) []models.HistoryEntry {
	t.Helper()
	page, err := h.c.Recent(context.Background(), nil, 100)
	require.NoError(t, err)
	return page.Items
}

// waitFor consumes notifications until match returns true.
func (h *harness) waitFor(t *testing.T, match func(notify.Notification) bool) notify.Notification {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-h.sub.C():
			require.True(t, ok, "bus closed")
			if match(n) {
				return n
			}
		case <-timeout:
			t.Fatal("notification did not arrive")
		}
	}
}

func textEvent(s, app string) monitor.Event {
	content, hash := fingerprint.Text(s)
	return monitor.Event{Kind: models.KindText, Content: content, Hash: hash, SourceApp: app, CapturedAt: time.Now()}
}

func (h *harness) capture(t *testing.T, s, app string) {
	t.Helper()
	ev := textEvent(s, app)
	h.c.SubmitEvent(ev)
	h.waitFor(t, func(n notify.Notification) bool {
		if n.Command != "" {
			return false
		}
		if n.Kind == notify.ListUpdated && n.Entry != nil {
			return n.Entry.ContentHash == ev.Hash
		}
		return n.Kind == notify.Info && strings.HasPrefix(n.Message, "clipboard item not saved")
	})
}

func TestController_CaptureDedupAndMaskedSearch(t *testing.T) {
	h := newHarness(t, Options{})

	h.capture(t, "hello", "Terminal")
	items := h.recent(t)
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Content)
	first := items[0].CreatedAt

	h.capture(t, "hello", "Terminal")
	items = h.recent(t)
	require.Len(t, items, 1)
	assert.True(t, items[0].CreatedAt.After(first), "recency refreshed")

	h.mustDo(t, &Unlock{Password: []byte("master")})
	v := h.mustDo(t, &CreateSnippet{CategoryID: catGeneral, Title: "bank pin", Content: "secret", Masked: true})
	sn := v.(*models.Snippet)
	assert.Empty(t, sn.Content)

	hits := h.mustDo(t, &Search{Query: "secret"}).([]models.SearchResult)
	assert.Empty(t, hits)

	hits = h.mustDo(t, &Search{Query: "bank"}).([]models.SearchResult)
	require.Len(t, hits, 1)
	assert.Equal(t, models.OriginSnippet, hits[0].Origin)
	assert.Equal(t, sn.ID, hits[0].ID)
}

func TestController_WrongPasswordPasteFailsWithAuthentication(t *testing.T) {
	h := newHarness(t, Options{})

	h.mustDo(t, &Unlock{Password: []byte("master")})
	sn := h.mustDo(t, &CreateSnippet{CategoryID: catGeneral, Title: "token", Content: "s3cr3t", Masked: true}).(*models.Snippet)
	h.mustDo(t, &Lock{})

	res := h.do(t, &Unlock{Password: []byte("wrong")})
	require.Error(t, res.Err)
	assert.Equal(t, FailureAuthentication, ClassifyError(res.Err))

	res = h.do(t, &PasteItem{Origin: models.OriginSnippet, ID: sn.ID})
	require.Error(t, res.Err)
	assert.Equal(t, FailureAuthentication, ClassifyError(res.Err))
	assert.ErrorIs(t, res.Err, common.ErrVaultLocked)

	assert.Empty(t, h.clip.Writes())
	assert.Zero(t, h.paster.Count())

	n := h.waitFor(t, func(n notify.Notification) bool {
		return n.Kind == notify.OperationFailed && n.Command == "paste"
	})
	assert.Equal(t, string(FailureAuthentication), n.Failure)
	assert.NotContains(t, n.Message, "s3cr3t")
}

func TestController_PasteMaskedSnippetDecrypts(t *testing.T) {
	h := newHarness(t, Options{})

	h.mustDo(t, &Unlock{Password: []byte("master")})
	sn := h.mustDo(t, &CreateSnippet{CategoryID: catGeneral, Title: "token", Content: "s3cr3t", Masked: true}).(*models.Snippet)

	res := h.mustDo(t, &PasteItem{Origin: models.OriginSnippet, ID: sn.ID}).(PasteResult)
	assert.True(t, res.Keystroke)

	writes := h.clip.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, clipWrite{models.KindText, "s3cr3t"}, writes[0])
	assert.Equal(t, 1, h.paster.Count())

	_, hash := fingerprint.Text("s3cr3t")
	assert.Equal(t, []string{hash}, h.suppress.hashes)

	got := h.mustDo(t, &GetSnippet{ID: sn.ID}).(*models.Snippet)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Empty(t, got.Content)

	got = h.mustDo(t, &GetSnippet{ID: sn.ID, Reveal: true}).(*models.Snippet)
	assert.Equal(t, "s3cr3t", got.Content)
}

func TestController_MaskedSnippetUpdateNeedsUnlock(t *testing.T) {
	h := newHarness(t, Options{})

	h.mustDo(t, &Unlock{Password: []byte("master")})
	sn := h.mustDo(t, &CreateSnippet{CategoryID: catGeneral, Title: "api", Content: "alphatoken"}).(*models.Snippet)
	h.mustDo(t, &UpdateSnippet{ID: sn.ID, CategoryID: catGeneral, Title: "api", Content: "betatoken", Masked: true})
	h.mustDo(t, &Lock{})

	res := h.do(t, &UpdateSnippet{ID: sn.ID, CategoryID: catGeneral, Title: "api"})
	assert.Equal(t, FailureVaultLocked, ClassifyError(res.Err))
	res = h.do(t, &UpdateSnippet{ID: sn.ID, CategoryID: catGeneral, Title: "renamed", Masked: true})
	assert.Equal(t, FailureVaultLocked, ClassifyError(res.Err))

	h.mustDo(t, &Unlock{Password: []byte("master")})
	h.mustDo(t, &UpdateSnippet{ID: sn.ID, CategoryID: catGeneral, Title: "api"})

	got := h.mustDo(t, &GetSnippet{ID: sn.ID, Reveal: true}).(*models.Snippet)
	assert.False(t, got.Masked)
	assert.Equal(t, "betatoken", got.Content)
}

func TestController_PasteKeystrokeFailureIsNotAnError(t *testing.T) {
	h := newHarness(t, Options{})
	h.paster.err = errors.New("xdotool: not found")

	h.capture(t, "plain", "")
	id := h.recent(t)[0].ID

	res := h.mustDo(t, &PasteItem{Origin: models.OriginHistory, ID: id}).(PasteResult)
	assert.False(t, res.Keystroke)
	assert.Len(t, h.clip.Writes(), 1)
}

func TestController_ClipboardFailureIsClassified(t *testing.T) {
	h := newHarness(t, Options{})
	h.clip.err = errors.New("no display")

	h.capture(t, "plain", "")
	id := h.recent(t)[0].ID

	res := h.do(t, &PasteItem{Origin: models.OriginHistory, ID: id})
	assert.Equal(t, FailureClipboard, ClassifyError(res.Err))
	assert.Zero(t, h.paster.Count())
}

func TestController_FilterRejectsAndFlags(t *testing.T) {
	h := newHarness(t, Options{})

	h.capture(t, "hunter2", "KeePassXC")
	assert.Empty(t, h.recent(t))

	h.capture(t, "password=hunter2", "Terminal")
	items := h.recent(t)
	require.Len(t, items, 1)
	assert.True(t, items[0].Sensitive)

	hits := h.mustDo(t, &Search{Query: "hunter2"}).([]models.SearchResult)
	assert.Empty(t, hits)
}

func TestController_NotificationsFollowCommandOrder(t *testing.T) {
	h := newHarness(t, Options{})
	h.capture(t, "alpha", "")
	h.capture(t, "beta", "")
	items := h.recent(t)
	require.Len(t, items, 2)

	var ids []string
	for _, cmd := range []Command{
		&PinToggle{ID: items[0].ID},
		&PinToggle{ID: items[1].ID},
		&DeleteHistory{ID: items[0].ID},
	} {
		id, err := h.c.Submit(context.Background(), cmd)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var seen []string
	var lastSeq uint64
	for len(seen) < len(ids) {
		n := h.waitFor(t, func(n notify.Notification) bool { return n.CommandID != "" })
		assert.Greater(t, n.Seq, lastSeq)
		lastSeq = n.Seq
		seen = append(seen, n.CommandID)
	}
	assert.Equal(t, ids, seen)
}

func TestController_FailureDoesNotStopProcessing(t *testing.T) {
	h := newHarness(t, Options{})

	res := h.do(t, &PinToggle{ID: 999})
	assert.Equal(t, FailureNotFound, ClassifyError(res.Err))
	assert.Equal(t, Idle, h.c.State())

	h.capture(t, "still works", "")
	assert.Len(t, h.recent(t), 1)
}

type panicStore struct {
	*storage.Store
}

func (panicStore) TogglePinned(context.Context, int64) (*models.HistoryEntry, error) {
	panic("boom")
}

func TestController_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, Options{}, func(d *Deps) {
		d.Store = panicStore{d.Store.(*storage.Store)}
	})

	res := h.do(t, &PinToggle{ID: 1})
	require.Error(t, res.Err)
	assert.Equal(t, FailureInternal, ClassifyError(res.Err))

	st := h.mustDo(t, &GetStatus{}).(Status)
	assert.Equal(t, "processing", st.State)
	assert.Equal(t, Idle, h.c.State())
}

func TestController_ValidationRejectsBeforeQueueing(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.c.Do(context.Background(), &PasteItem{Origin: "clipboard", ID: 1})
	assert.ErrorIs(t, err, common.ErrInvalidCommand)

	big := make([]byte, MaxContentBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err = h.c.Do(context.Background(), &CreateSnippet{CategoryID: catGeneral, Title: "big", Content: string(big)})
	assert.ErrorIs(t, err, common.ErrInvalidCommand)
}

func TestController_LockedCategory(t *testing.T) {
	h := newHarness(t, Options{})

	h.mustDo(t, &Unlock{Password: []byte("master")})
	sn := h.mustDo(t, &CreateSnippet{CategoryID: catPasswords, Title: "wifi", Content: "guest"}).(*models.Snippet)
	locked := h.mustDo(t, &CreateCategory{Label: "Vault", Locked: true}).(*models.Category)
	h.mustDo(t, &CreateSnippet{CategoryID: locked.ID, Title: "root", Content: "toor"})

	list := h.mustDo(t, &ListSnippets{}).([]models.Snippet)
	assert.Len(t, list, 2)

	h.mustDo(t, &Lock{})

	list = h.mustDo(t, &ListSnippets{}).([]models.Snippet)
	require.Len(t, list, 1)
	assert.Equal(t, sn.ID, list[0].ID)

	hits := h.mustDo(t, &Search{Query: "root"}).([]models.SearchResult)
	assert.Empty(t, hits)

	res := h.do(t, &DeleteCategory{ID: locked.ID})
	assert.Equal(t, FailureVaultLocked, ClassifyError(res.Err))

	res = h.do(t, &CreateSnippet{CategoryID: locked.ID, Title: "x", Content: "y"})
	assert.Equal(t, FailureVaultLocked, ClassifyError(res.Err))
}

func TestController_QueueMode(t *testing.T) {
	h := newHarness(t, Options{})

	h.mustDo(t, &ToggleQueueMode{Enabled: true})
	h.capture(t, "one", "")
	h.capture(t, "two", "")

	st := h.mustDo(t, &GetStatus{}).(Status)
	assert.True(t, st.QueueMode)
	assert.Equal(t, 2, st.QueueLength)

	res := h.mustDo(t, &NextQueueItem{}).(PasteResult)
	assert.Equal(t, 1, res.Remaining)
	res = h.mustDo(t, &NextQueueItem{}).(PasteResult)
	assert.Equal(t, 0, res.Remaining)

	writes := h.clip.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "one", writes[0].content)
	assert.Equal(t, "two", writes[1].content)

	res = h.mustDo(t, &NextQueueItem{}).(PasteResult)
	assert.Zero(t, res.ID)
	h.waitFor(t, func(n notify.Notification) bool { return n.Kind == notify.Info && n.Message == "queue empty" })

	h.capture(t, "three", "")
	h.mustDo(t, &ToggleQueueMode{Enabled: false})
	st = h.mustDo(t, &GetStatus{}).(Status)
	assert.Zero(t, st.QueueLength)
}

func TestController_RetentionEvictsAndRemovesBlobs(t *testing.T) {
	h := newHarness(t, Options{MaxHistoryItems: 2})

	h.c.SubmitEvent(monitor.Event{Kind: models.KindImageRef, Content: "/blobs/aa/aa.png", Hash: "aa"})
	h.waitFor(t, func(n notify.Notification) bool { return n.Kind == notify.ListUpdated && n.Entry != nil })
	h.capture(t, "second", "")
	h.capture(t, "third", "")

	require.Eventually(t, func() bool {
		return len(h.recent(t)) == 2 && len(h.blobs.Removed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"/blobs/aa/aa.png"}, h.blobs.Removed())
}

func TestController_ShutdownDrainsAndRefuses(t *testing.T) {
	h := newHarness(t, Options{})
	h.mustDo(t, &Unlock{Password: []byte("master")})

	for _, s := range []string{"a1", "b2", "c3"} {
		h.c.SubmitEvent(textEvent(s, ""))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.c.Shutdown(ctx))
	require.NoError(t, <-h.runResult)

	assert.Len(t, h.recent(t), 3)
	assert.True(t, h.vault.IsLocked())
	assert.Equal(t, ShuttingDown, h.c.State())

	_, err := h.c.Do(context.Background(), &GetStatus{})
	assert.ErrorIs(t, err, common.ErrShuttingDown)
}

type blockingStore struct {
	*storage.Store
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (b *blockingStore) TogglePinned(context.Context, int64) (*models.HistoryEntry, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return nil, common.ErrNotFound
}

func (b *blockingStore) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestController_ShutdownWithFullCommandQueue(t *testing.T) {
	bs := &blockingStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, Options{CommandQueue: 1}, func(d *Deps) {
		bs.Store = d.Store.(*storage.Store)
		d.Store = bs
	})
	ctx := context.Background()

	_, err := h.c.Submit(ctx, &PinToggle{ID: 1})
	require.NoError(t, err)
	<-bs.entered
	_, err = h.c.Submit(ctx, &PinToggle{ID: 2})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := h.c.Submit(ctx, &PinToggle{ID: id})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, common.ErrShuttingDown)
		}(int64(10 + i))
	}
	time.Sleep(50 * time.Millisecond)

	shut := make(chan error, 1)
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shut <- h.c.Shutdown(sctx)
	}()
	time.Sleep(20 * time.Millisecond)
	close(bs.release)

	select {
	case err := <-shut:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	require.NoError(t, <-h.runResult)
	wg.Wait()

	assert.Equal(t, 2+accepted, bs.Calls(), "every accepted command is handled")

	_, err = h.c.Submit(ctx, &PinToggle{ID: 99})
	assert.ErrorIs(t, err, common.ErrShuttingDown)
}

func TestController_TagsAndCategories(t *testing.T) {
	h := newHarness(t, Options{})
	h.capture(t, "tagged", "")
	id := h.recent(t)[0].ID

	h.mustDo(t, &TagItem{Tag: "work", ItemID: id, ItemType: models.ItemHistory})
	tags := h.mustDo(t, &ListTags{}).([]models.Tag)
	require.Len(t, tags, 1)
	assert.Equal(t, "work", tags[0].Name)

	h.mustDo(t, &UntagItem{Tag: "work", ItemID: id, ItemType: models.ItemHistory})

	res := h.do(t, &TagItem{Tag: "work", ItemID: 999, ItemType: models.ItemHistory})
	assert.Equal(t, FailureNotFound, ClassifyError(res.Err))

	cats := h.mustDo(t, &ListCategories{}).([]models.Category)
	assert.GreaterOrEqual(t, len(cats), 3)
}

func TestController_EmptySearchPublishesListUpdated(t *testing.T) {
	h := newHarness(t, Options{})
	h.mustDo(t, &Search{Query: "   "})
	h.waitFor(t, func(n notify.Notification) bool {
		return n.Kind == notify.ListUpdated && n.Command == "search"
	})
}
