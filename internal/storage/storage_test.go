package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/fingerprint"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	catGeneral   int64 = 1
	catPasswords int64 = 2
)

type fakeCipher struct {
	mu     sync.Mutex
	key    []byte
	locked bool
}

func newFakeCipher() *fakeCipher { return &fakeCipher{key: cryptox.NewKey()} }

func (c *fakeCipher) Encrypt(pt, aad []byte) (models.Sealed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return models.Sealed{}, common.ErrVaultLocked
	}
	return cryptox.Seal(c.key, pt, aad)
}

func (c *fakeCipher) Decrypt(s models.Sealed, aad []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return nil, common.ErrVaultLocked
	}
	return cryptox.Open(c.key, s, aad)
}

// clock advances one millisecond per call.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newStore(t *testing.T) (*Store, *fakeCipher, *clock) {
	t.Helper()
	ctx := context.Background()

	db, err := OpenDB(ctx, filepath.Join(t.TempDir(), "clipkeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := newFakeCipher()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	return New(db, c, logging.Nop(), WithClock(clk.Now)), c, clk
}

func textEntry(s string) *models.HistoryEntry {
	norm, hash := fingerprint.Text(s)
	return &models.HistoryEntry{Kind: models.KindText, Content: norm, ContentHash: hash}
}

func insert(t *testing.T, s *Store, content string) *models.HistoryEntry {
	t.Helper()
	e := textEntry(content)
	out, err := s.InsertHistory(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, Inserted, out)
	return e
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestInsertHistory_Dedup(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	first := insert(t, s, "hello")
	require.NotZero(t, first.ID)

	again := textEntry("hello  \n")
	out, err := s.InsertHistory(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, Refreshed, out)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.CreatedAt.After(first.CreatedAt))
	assert.Equal(t, 1, countRows(t, s, "history"))

	pinned, err := s.TogglePinned(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, pinned.Pinned)

	third := textEntry("hello")
	out, err = s.InsertHistory(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, PinnedKept, out)
	assert.True(t, third.Pinned)
	assert.Equal(t, again.CreatedAt.UnixNano(), third.CreatedAt.UnixNano(), "pinned entry untouched")
	assert.Equal(t, 1, countRows(t, s, "history"))
}

func TestInsertHistory_RefreshMovesToTop(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	a := insert(t, s, "a")
	insert(t, s, "b")

	_, err := s.InsertHistory(ctx, textEntry("a"))
	require.NoError(t, err)

	page, err := s.ListRecent(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, a.ID, page.Items[0].ID)
}

func TestInsertHistory_StalledClockStillOrders(t *testing.T) {
	s, _, _ := newStore(t)
	fixed := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return fixed }

	a := insert(t, s, "a")
	b := insert(t, s, "b")
	assert.True(t, b.CreatedAt.After(a.CreatedAt))
}

func TestInsertHistory_Invalid(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	_, err := s.InsertHistory(ctx, &models.HistoryEntry{Kind: 9, ContentHash: "x"})
	assert.ErrorIs(t, err, common.ErrInvalidCommand)

	_, err = s.InsertHistory(ctx, &models.HistoryEntry{Kind: models.KindText})
	assert.ErrorIs(t, err, common.ErrInvalidCommand)
}

func TestListRecent_Pagination(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, insert(t, s, fmt.Sprintf("item %d", i)).ID)
	}
	_, err := s.TogglePinned(ctx, ids[0])
	require.NoError(t, err)

	want := []int64{ids[0], ids[4], ids[3], ids[2], ids[1]}

	var got []int64
	page, err := s.ListRecent(ctx, nil, 2)
	require.NoError(t, err)
	for {
		for _, e := range page.Items {
			got = append(got, e.ID)
		}
		if page.Next == nil {
			break
		}
		page, err = s.ListRecent(ctx, page.Next, 2)
		require.NoError(t, err)
	}
	assert.Equal(t, want, got)
}

func TestGetAndDeleteHistory(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	e := insert(t, s, "to delete")

	got, err := s.FindByHash(ctx, e.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	deleted, err := s.DeleteHistory(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "to delete", deleted.Content)

	_, err = s.GetHistory(ctx, e.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = s.DeleteHistory(ctx, e.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	n, err := s.CheckIndex(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEvictHistory(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()

	e1 := insert(t, s, "one")
	e2 := insert(t, s, "two")
	insert(t, s, "three")
	insert(t, s, "four")
	_, err := s.TogglePinned(ctx, e1.ID)
	require.NoError(t, err)

	evicted, err := s.EvictHistory(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, e2.ID, evicted[0].ID)
	assert.Equal(t, 3, countRows(t, s, "history"))

	// everything unpinned is older than an hour once the clock moves on
	clk.mu.Lock()
	clk.t = clk.t.Add(2 * time.Hour)
	clk.mu.Unlock()

	evicted, err = s.EvictHistory(ctx, 0, time.Hour)
	require.NoError(t, err)
	assert.Len(t, evicted, 2)
	assert.Equal(t, 1, countRows(t, s, "history"), "pinned survives")

	evicted, err = s.EvictHistory(ctx, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, evicted)
}

func TestSnippets_MaskedConfidentiality(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	sn := &models.Snippet{CategoryID: catPasswords, Title: "bank pin", Content: "topsecret-4321", Masked: true}
	require.NoError(t, s.UpsertSnippet(ctx, sn))
	require.NotZero(t, sn.ID)
	assert.Empty(t, sn.Content, "returned value carries no plaintext")

	var content string
	var ciphertext []byte
	require.NoError(t, s.DB().QueryRow(`SELECT content, ciphertext FROM snippets WHERE id = ?`, sn.ID).Scan(&content, &ciphertext))
	assert.Empty(t, content)
	assert.NotContains(t, string(ciphertext), "topsecret")

	var indexed string
	require.NoError(t, s.DB().QueryRow(`SELECT content FROM snippets_fts WHERE rowid = ?`, sn.ID).Scan(&indexed))
	assert.Empty(t, indexed)

	hidden, err := s.GetSnippet(ctx, sn.ID, false)
	require.NoError(t, err)
	assert.Empty(t, hidden.Content)
	assert.True(t, hidden.Sealed.Empty())

	revealed, err := s.GetSnippet(ctx, sn.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "topsecret-4321", revealed.Content)

	list, err := s.ListSnippets(ctx, 0, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Content)
}

func TestSnippets_TitleOnlyUpdateKeepsCiphertext(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	sn := &models.Snippet{CategoryID: catPasswords, Title: "old", Content: "s3cret", Masked: true}
	require.NoError(t, s.UpsertSnippet(ctx, sn))
	require.NoError(t, s.IncrementUsage(ctx, sn.ID))

	upd := &models.Snippet{ID: sn.ID, CategoryID: catPasswords, Title: "new", Masked: true}
	require.NoError(t, s.UpsertSnippet(ctx, upd))
	assert.Equal(t, int64(1), upd.UsageCount)

	got, err := s.GetSnippet(ctx, sn.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, "s3cret", got.Content)

	// unmasking with new content stores plaintext again
	plain := &models.Snippet{ID: sn.ID, CategoryID: catPasswords, Title: "new", Content: "visible"}
	require.NoError(t, s.UpsertSnippet(ctx, plain))
	got, err = s.GetSnippet(ctx, sn.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "visible", got.Content)

	// masking without content is refused
	err = s.UpsertSnippet(ctx, &models.Snippet{ID: sn.ID, CategoryID: catPasswords, Title: "x", Masked: true})
	assert.ErrorIs(t, err, common.ErrInvalidCommand)
}

func TestSnippets_UnmaskWithoutContentKeepsSecret(t *testing.T) {
	s, c, _ := newStore(t)
	ctx := context.Background()

	sn := &models.Snippet{CategoryID: catPasswords, Title: "api", Content: "alphatoken"}
	require.NoError(t, s.UpsertSnippet(ctx, sn))
	require.NoError(t, s.UpsertSnippet(ctx, &models.Snippet{ID: sn.ID, CategoryID: catPasswords, Title: "api", Content: "betatoken", Masked: true}))

	c.locked = true
	err := s.UpsertSnippet(ctx, &models.Snippet{ID: sn.ID, CategoryID: catPasswords, Title: "api"})
	assert.ErrorIs(t, err, common.ErrVaultLocked)
	c.locked = false

	still, err := s.GetSnippet(ctx, sn.ID, true)
	require.NoError(t, err)
	assert.True(t, still.Masked)
	assert.Equal(t, "betatoken", still.Content)

	upd := &models.Snippet{ID: sn.ID, CategoryID: catPasswords, Title: "api"}
	require.NoError(t, s.UpsertSnippet(ctx, upd))
	assert.Equal(t, "betatoken", upd.Content)

	got, err := s.GetSnippet(ctx, sn.ID, true)
	require.NoError(t, err)
	assert.False(t, got.Masked)
	assert.Equal(t, "betatoken", got.Content)

	var ciphertext []byte
	require.NoError(t, s.DB().QueryRow(`SELECT ciphertext FROM snippets WHERE id = ?`, sn.ID).Scan(&ciphertext))
	assert.Nil(t, ciphertext)
}

func TestSnippets_CiphertextBoundToRow(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	a := &models.Snippet{CategoryID: catPasswords, Title: "a", Content: "secret-a", Masked: true}
	require.NoError(t, s.UpsertSnippet(ctx, a))
	b := &models.Snippet{CategoryID: catPasswords, Title: "b", Content: "secret-b", Masked: true}
	require.NoError(t, s.UpsertSnippet(ctx, b))

	_, err := s.DB().Exec(`
		UPDATE snippets SET
			nonce = (SELECT nonce FROM snippets WHERE id = ?),
			ciphertext = (SELECT ciphertext FROM snippets WHERE id = ?),
			tag = (SELECT tag FROM snippets WHERE id = ?)
		WHERE id = ?`, a.ID, a.ID, a.ID, b.ID)
	require.NoError(t, err)

	_, err = s.GetSnippet(ctx, b.ID, true)
	assert.ErrorIs(t, err, common.ErrAuthenticationFailure)

	got, err := s.GetSnippet(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "secret-a", got.Content)
}

func TestSnippets_LockedCipher(t *testing.T) {
	s, c, _ := newStore(t)
	ctx := context.Background()

	sn := &models.Snippet{CategoryID: catPasswords, Title: "k", Content: "v", Masked: true}
	require.NoError(t, s.UpsertSnippet(ctx, sn))

	c.locked = true
	err := s.UpsertSnippet(ctx, &models.Snippet{CategoryID: catPasswords, Title: "k2", Content: "v2", Masked: true})
	assert.ErrorIs(t, err, common.ErrVaultLocked)
	assert.Equal(t, 1, countRows(t, s, "snippets"), "nothing stored")

	_, err = s.GetSnippet(ctx, sn.ID, true)
	assert.ErrorIs(t, err, common.ErrVaultLocked)

	// metadata still readable while locked
	got, err := s.GetSnippet(ctx, sn.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "k", got.Title)
}

func TestSnippets_Validation(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpsertSnippet(ctx, &models.Snippet{CategoryID: catGeneral, Title: "  "}), common.ErrInvalidCommand)
	assert.ErrorIs(t, s.UpsertSnippet(ctx, &models.Snippet{Title: "t"}), common.ErrInvalidCommand)
	assert.ErrorIs(t, s.UpsertSnippet(ctx, &models.Snippet{CategoryID: 999, Title: "t"}), common.ErrInvalidCommand)
	assert.ErrorIs(t, s.UpsertSnippet(ctx, &models.Snippet{ID: 999, CategoryID: catGeneral, Title: "t"}), common.ErrNotFound)
	assert.ErrorIs(t, s.DeleteSnippet(ctx, 999), common.ErrNotFound)
}

func TestSearch_MergedAndMasked(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	h := insert(t, s, "hello world")
	plain := &models.Snippet{CategoryID: catGeneral, Title: "hello snippet", Content: "greeting"}
	require.NoError(t, s.UpsertSnippet(ctx, plain))
	masked := &models.Snippet{CategoryID: catPasswords, Title: "hello secret", Content: "topsecret", Masked: true}
	require.NoError(t, s.UpsertSnippet(ctx, masked))

	results, err := s.Search(ctx, "hello", AllUnlocked, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[models.Origin]map[int64]models.SearchResult{}
	for i, r := range results {
		if i > 0 {
			assert.LessOrEqual(t, results[i-1].Rank, r.Rank)
		}
		if byID[r.Origin] == nil {
			byID[r.Origin] = map[int64]models.SearchResult{}
		}
		byID[r.Origin][r.ID] = r
	}
	require.Contains(t, byID[models.OriginHistory], h.ID)
	require.Contains(t, byID[models.OriginSnippet], masked.ID)
	assert.Empty(t, byID[models.OriginSnippet][masked.ID].Snippet.Content)
	assert.Equal(t, "greeting", byID[models.OriginSnippet][plain.ID].Snippet.Content)

	results, err = s.Search(ctx, "topsecret", AllUnlocked, 10)
	require.NoError(t, err)
	assert.Empty(t, results, "masked content is not searchable")

	results, err = s.Search(ctx, "hel", Scope{History: true}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1, "last term matches as prefix")

	results, err = s.Search(ctx, `he"llo OR NOT (`, AllUnlocked, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(ctx, "   ", AllUnlocked, 10)
	require.NoError(t, err)
	assert.Nil(t, results)

	results, err = s.Search(ctx, "hello", AllUnlocked, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearch_SensitiveHistoryNotIndexed(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	e := textEntry("token sk-abcdef")
	e.Sensitive = true
	e.SourceApp = "Terminal"
	_, err := s.InsertHistory(ctx, e)
	require.NoError(t, err)

	results, err := s.Search(ctx, "token", AllUnlocked, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(ctx, "terminal", AllUnlocked, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].History)
	assert.True(t, results[0].History.Sensitive)
	assert.Empty(t, results[0].History.Content, "sensitive hits are returned without content")

	stored, err := s.GetHistory(ctx, results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "token sk-abcdef", stored.Content)
}

func TestSearch_LockedCategories(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	cat := &models.Category{Name: "Private", Locked: true}
	require.NoError(t, s.CreateCategory(ctx, cat))
	sn := &models.Snippet{CategoryID: cat.ID, Title: "diary entry", Content: "dear diary"}
	require.NoError(t, s.UpsertSnippet(ctx, sn))

	results, err := s.Search(ctx, "diary", AllUnlocked, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	list, err := s.ListSnippets(ctx, 0, false)
	require.NoError(t, err)
	assert.Empty(t, list)

	results, err = s.Search(ctx, "diary", Scope{Snippets: true, IncludeLocked: true}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestCategories(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 3)

	c := &models.Category{Name: " Work ", Icon: "💼"}
	require.NoError(t, s.CreateCategory(ctx, c))
	assert.Equal(t, "Work", c.Name)

	c.Locked = true
	require.NoError(t, s.UpdateCategory(ctx, c))
	got, err := s.GetCategory(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked)

	assert.ErrorIs(t, s.CreateCategory(ctx, &models.Category{Name: ""}), common.ErrInvalidCommand)

	sn := &models.Snippet{CategoryID: c.ID, Title: "standup notes", Content: "yesterday"}
	require.NoError(t, s.UpsertSnippet(ctx, sn))
	require.NoError(t, s.TagItem(ctx, "daily", sn.ID, models.ItemSnippet))

	require.NoError(t, s.DeleteCategory(ctx, c.ID))
	assert.Equal(t, 0, countRows(t, s, "snippets"))
	assert.Equal(t, 0, countRows(t, s, "item_tags"))

	n, err := s.CheckIndex(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := s.Search(ctx, "standup", Scope{Snippets: true, IncludeLocked: true}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, s.DeleteCategory(ctx, c.ID), common.ErrNotFound)
}

func TestTags(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	e := insert(t, s, "tagged")
	require.NoError(t, s.TagItem(ctx, "work", e.ID, models.ItemHistory))
	require.NoError(t, s.TagItem(ctx, "Work", e.ID, models.ItemHistory), "names are case-insensitive")
	require.NoError(t, s.TagItem(ctx, "urgent", e.ID, models.ItemHistory))

	names, err := s.TagsFor(ctx, e.ID, models.ItemHistory)
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent", "work"}, names)

	require.NoError(t, s.UntagItem(ctx, "urgent", e.ID, models.ItemHistory))
	names, err = s.TagsFor(ctx, e.ID, models.ItemHistory)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, names)

	assert.ErrorIs(t, s.TagItem(ctx, "x", 999, models.ItemHistory), common.ErrNotFound)
	assert.ErrorIs(t, s.TagItem(ctx, "x", e.ID, "bogus"), common.ErrInvalidCommand)
	assert.ErrorIs(t, s.TagItem(ctx, " ", e.ID, models.ItemHistory), common.ErrInvalidCommand)

	_, err = s.DeleteHistory(ctx, e.ID)
	require.NoError(t, err)
	names, err = s.TagsFor(ctx, e.ID, models.ItemHistory)
	require.NoError(t, err)
	assert.Empty(t, names)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 2)
	require.NoError(t, s.DeleteTag(ctx, "work"))
	assert.ErrorIs(t, s.DeleteTag(ctx, "work"), common.ErrNotFound)
}

func TestIndexRebuild(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	insert(t, s, "needle in history")
	require.NoError(t, s.UpsertSnippet(ctx, &models.Snippet{CategoryID: catGeneral, Title: "needle snippet"}))

	_, err := s.DB().Exec(`DELETE FROM history_fts`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`DELETE FROM snippets_fts`)
	require.NoError(t, err)

	n, err := s.CheckIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.RebuildIndex(ctx))
	n, err = s.CheckIndex(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := s.Search(ctx, "needle", AllUnlocked, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStorageErrorsWrapped(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := s.ListRecent(ctx, nil, 10)
	assert.ErrorIs(t, err, common.ErrStorage)

	_, err = s.InsertHistory(ctx, textEntry("x"))
	assert.ErrorIs(t, err, common.ErrStorage)
}

func TestMatchQuery(t *testing.T) {
	assert.Equal(t, "", MatchQuery("  "))
	assert.Equal(t, `"foo"*`, MatchQuery("foo"))
	assert.Equal(t, `"foo" "bar"*`, MatchQuery(" foo  bar "))
	assert.Equal(t, `"a""b"*`, MatchQuery(`a"b`))
	assert.Equal(t, `"x"*`, MatchQuery(`x ( -- )`))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "refreshed", Refreshed.String())
	assert.Equal(t, "pinned-kept", PinnedKept.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
