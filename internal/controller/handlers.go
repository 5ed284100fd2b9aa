package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/filter"
	"github.com/dmitrijs2005/clipkeeper/internal/fingerprint"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/monitor"
	"github.com/dmitrijs2005/clipkeeper/internal/notify"
	"github.com/dmitrijs2005/clipkeeper/internal/storage"
)

// Status is the answer to GetStatus.
type Status struct {
	State         string `json:"state"`
	Locked        bool   `json:"locked"`
	QueueMode     bool   `json:"queue_mode"`
	QueueLength   int    `json:"queue_length"`
	PendingEvents int    `json:"pending_events"`
}

// PasteResult is the answer to PasteItem and NextQueueItem.
type PasteResult struct {
	Origin models.Origin `json:"origin"`
	ID     int64         `json:"id"`
	// Keystroke is false when the clipboard was set but the paste
	// keystroke could not be injected.
	Keystroke bool `json:"keystroke"`
	// Remaining is the paste queue length after NextQueueItem.
	Remaining int `json:"remaining,omitempty"`
}

func (c *Controller) dispatch(req *request) (any, error) {
	ctx := req.ctx

	switch cmd := req.cmd.(type) {
	case *Search:
		return c.search(req, cmd)

	case *PasteItem:
		return c.paste(req, cmd.Origin, cmd.ID)

	case *PinToggle:
		e, err := c.d.Store.TogglePinned(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		c.listUpdated(req, "pin", e)
		return e, nil

	case *DeleteHistory:
		e, err := c.d.Store.DeleteHistory(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		c.removeBlobs(ctx, *e)
		c.dropFromQueue(e.ID)
		c.listUpdated(req, "delete", e)
		return e, nil

	case *CreateSnippet:
		sn := &models.Snippet{CategoryID: cmd.CategoryID, Title: cmd.Title, Content: cmd.Content, Masked: cmd.Masked}
		return c.saveSnippet(req, sn)

	case *UpdateSnippet:
		prev, err := c.accessibleSnippet(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		if prev.Masked {
			if err := c.d.Vault.CheckUnlocked(); err != nil {
				return nil, err
			}
		}
		sn := &models.Snippet{ID: cmd.ID, CategoryID: cmd.CategoryID, Title: cmd.Title, Content: cmd.Content, Masked: cmd.Masked}
		return c.saveSnippet(req, sn)

	case *DeleteSnippet:
		if _, err := c.accessibleSnippet(ctx, cmd.ID); err != nil {
			return nil, err
		}
		if err := c.d.Store.DeleteSnippet(ctx, cmd.ID); err != nil {
			return nil, err
		}
		c.listUpdated(req, "snippets", nil)
		return nil, nil

	case *GetSnippet:
		sn, err := c.accessibleSnippet(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		if !cmd.Reveal || !sn.Masked {
			return sn, nil
		}
		if err := c.d.Vault.CheckUnlocked(); err != nil {
			return nil, err
		}
		return c.d.Store.GetSnippet(ctx, cmd.ID, true)

	case *Unlock:
		defer common.WipeByteArray(cmd.Password)
		err := c.d.Vault.Unlock(ctx, cmd.Password)
		c.updateVaultGauge()
		if err != nil {
			return nil, err
		}
		c.info(req, "vault unlocked")
		c.listUpdated(req, "unlock", nil)
		return nil, nil

	case *Lock:
		c.d.Vault.Lock()
		c.updateVaultGauge()
		c.info(req, "vault locked")
		c.listUpdated(req, "lock", nil)
		return nil, nil

	case *ChangePassword:
		defer common.WipeByteArray(cmd.Old)
		defer common.WipeByteArray(cmd.New)
		err := c.d.Vault.ChangePassword(ctx, cmd.Old, cmd.New)
		c.updateVaultGauge()
		if err != nil {
			return nil, err
		}
		c.info(req, "master password changed")
		return nil, nil

	case *ListRecent:
		limit := cmd.Limit
		if limit <= 0 {
			limit = c.opts.PageSize
		}
		return c.d.Store.ListRecent(ctx, cmd.After, limit)

	case *ListSnippets:
		return c.d.Store.ListSnippets(ctx, cmd.CategoryID, !c.d.Vault.IsLocked())

	case *ListCategories:
		return c.d.Store.ListCategories(ctx)

	case *CreateCategory:
		cat := &models.Category{Name: cmd.Label, Icon: cmd.Icon, SortOrder: cmd.SortOrder, Locked: cmd.Locked}
		if err := c.d.Store.CreateCategory(ctx, cat); err != nil {
			return nil, err
		}
		c.listUpdated(req, "categories", nil)
		return cat, nil

	case *DeleteCategory:
		cat, err := c.d.Store.GetCategory(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		if cat.Locked {
			if err := c.d.Vault.CheckUnlocked(); err != nil {
				return nil, err
			}
		}
		if err := c.d.Store.DeleteCategory(ctx, cmd.ID); err != nil {
			return nil, err
		}
		c.listUpdated(req, "categories", nil)
		return nil, nil

	case *TagItem:
		if err := c.checkTagTarget(ctx, cmd.ItemID, cmd.ItemType); err != nil {
			return nil, err
		}
		return nil, c.d.Store.TagItem(ctx, cmd.Tag, cmd.ItemID, cmd.ItemType)

	case *UntagItem:
		if err := c.checkTagTarget(ctx, cmd.ItemID, cmd.ItemType); err != nil {
			return nil, err
		}
		return nil, c.d.Store.UntagItem(ctx, cmd.Tag, cmd.ItemID, cmd.ItemType)

	case *ListTags:
		return c.d.Store.ListTags(ctx)

	case *ToggleQueueMode:
		c.queueMode = cmd.Enabled
		if !cmd.Enabled {
			c.pasteQueue = nil
		}
		c.info(req, "queue mode: %t", cmd.Enabled)
		return c.status(), nil

	case *NextQueueItem:
		if len(c.pasteQueue) == 0 {
			c.info(req, "queue empty")
			return PasteResult{}, nil
		}
		id := c.pasteQueue[0]
		c.pasteQueue = c.pasteQueue[1:]
		res, err := c.paste(req, models.OriginHistory, id)
		if err != nil {
			return nil, err
		}
		res.Remaining = len(c.pasteQueue)
		c.info(req, "queue size: %d", res.Remaining)
		return res, nil

	case *Evict:
		n, err := c.evict(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			c.listUpdated(req, "evict", nil)
		}
		return n, nil

	case *GetStatus:
		return c.status(), nil

	default:
		return nil, fmt.Errorf("%w: unsupported command %T", common.ErrInvalidCommand, cmd)
	}
}

func (c *Controller) status() Status {
	return Status{
		State:         c.State().String(),
		Locked:        c.d.Vault.IsLocked(),
		QueueMode:     c.queueMode,
		QueueLength:   len(c.pasteQueue),
		PendingEvents: c.events.len(),
	}
}

func (c *Controller) listUpdated(req *request, reason string, e *models.HistoryEntry) {
	n := notify.Notification{Kind: notify.ListUpdated, Message: reason, Entry: e}
	if req != nil {
		n.CommandID, n.Command = req.id, req.cmd.Name()
	}
	c.publish(n)
}

func (c *Controller) search(req *request, cmd *Search) ([]models.SearchResult, error) {
	query := strings.TrimSpace(cmd.Query)
	if query == "" {
		// an empty search goes back to the plain listing
		c.listUpdated(req, "search-cleared", nil)
		return nil, nil
	}

	scope := storage.Scope{History: true, Snippets: true, IncludeLocked: !c.d.Vault.IsLocked()}
	limit := cmd.Limit
	if limit <= 0 {
		limit = c.opts.PageSize
	}

	results, err := c.d.Store.Search(req.ctx, query, scope, limit)
	if err != nil {
		return nil, err
	}
	c.publish(notify.Notification{
		Kind:      notify.SearchResults,
		CommandID: req.id,
		Command:   req.cmd.Name(),
		Query:     query,
		Results:   results,
	})
	return results, nil
}

// accessibleSnippet loads a snippet without its secret and refuses
// snippets of locked categories while the vault is locked.
func (c *Controller) accessibleSnippet(ctx context.Context, id int64) (*models.Snippet, error) {
	sn, err := c.d.Store.GetSnippet(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if err := c.checkCategory(ctx, sn.CategoryID); err != nil {
		return nil, err
	}
	return sn, nil
}

func (c *Controller) checkCategory(ctx context.Context, categoryID int64) error {
	cat, err := c.d.Store.GetCategory(ctx, categoryID)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("%w: category %d does not exist", common.ErrInvalidCommand, categoryID)
	}
	if err != nil {
		return err
	}
	if cat.Locked {
		return c.d.Vault.CheckUnlocked()
	}
	return nil
}

func (c *Controller) checkTagTarget(ctx context.Context, id int64, t models.ItemType) error {
	if t != models.ItemSnippet {
		return nil
	}
	_, err := c.accessibleSnippet(ctx, id)
	return err
}

func (c *Controller) saveSnippet(req *request, sn *models.Snippet) (*models.Snippet, error) {
	if err := c.checkCategory(req.ctx, sn.CategoryID); err != nil {
		return nil, err
	}
	if sn.Masked && sn.Content != "" {
		if err := c.d.Vault.CheckUnlocked(); err != nil {
			return nil, err
		}
	}
	if err := c.d.Store.UpsertSnippet(req.ctx, sn); err != nil {
		return nil, err
	}
	c.listUpdated(req, "snippets", nil)
	return sn, nil
}

// paste sets the clipboard to an item and injects the paste keystroke.
// Masked content is decrypted only here and only handed to the clipboard.
func (c *Controller) paste(req *request, origin models.Origin, id int64) (PasteResult, error) {
	ctx := req.ctx
	res := PasteResult{Origin: origin, ID: id}

	var (
		kind    models.Kind
		content string
		hash    string
	)

	switch origin {
	case models.OriginHistory:
		e, err := c.d.Store.GetHistory(ctx, id)
		if err != nil {
			return res, err
		}
		kind, content, hash = e.Kind, e.Content, e.ContentHash

	case models.OriginSnippet:
		sn, err := c.accessibleSnippet(ctx, id)
		if err != nil {
			return res, err
		}
		if sn.Masked {
			if err := c.d.Vault.CheckUnlocked(); err != nil {
				return res, err
			}
			if sn, err = c.d.Store.GetSnippet(ctx, id, true); err != nil {
				return res, err
			}
		}
		kind = models.KindText
		content, hash = fingerprint.Text(sn.Content)

	default:
		return res, fmt.Errorf("%w: unknown origin %q", common.ErrInvalidCommand, origin)
	}

	if c.d.Suppressor != nil {
		c.d.Suppressor.Suppress(hash)
	}
	if c.d.Clipboard == nil {
		return res, fmt.Errorf("%w: no clipboard writer", common.ErrClipboard)
	}
	if err := c.d.Clipboard.Write(ctx, kind, content); err != nil {
		return res, fmt.Errorf("%w: %w", common.ErrClipboard, err)
	}

	if origin == models.OriginSnippet {
		if err := c.d.Store.IncrementUsage(ctx, id); err != nil {
			c.log.Warn(ctx, "failed to count snippet usage", "id", id, "error", err)
		}
	}

	if c.d.Paster != nil {
		if c.opts.PasteDelay > 0 {
			time.Sleep(c.opts.PasteDelay)
		}
		if err := c.d.Paster.Paste(ctx); err != nil {
			c.log.Info(ctx, "paste keystroke failed", "error", err)
			c.info(req, "copied to clipboard; paste keystroke failed: %v", err)
			return res, nil
		}
		res.Keystroke = true
	}
	return res, nil
}

func (c *Controller) handleEvent(ctx context.Context, ev monitor.Event) {
	c.setState(Processing)
	defer c.setState(Idle)

	outcome, err := c.capture(ctx, ev)
	if c.d.Metrics != nil {
		c.d.Metrics.EventsTotal.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		kind := ClassifyError(err)
		c.log.Warn(ctx, "capture failed", "kind", kind, "error", err)
		c.publish(notify.Notification{
			Kind:    notify.OperationFailed,
			Command: "capture",
			Failure: string(kind),
			Message: err.Error(),
		})
	}
}

func (c *Controller) capture(ctx context.Context, ev monitor.Event) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(ctx, "panic while capturing", "panic", r)
			outcome, err = "error", fmt.Errorf("panic while capturing: %v", r)
		}
	}()

	if !ev.Kind.Valid() || ev.Hash == "" {
		return "invalid", fmt.Errorf("%w: malformed capture event", common.ErrInvalidCommand)
	}

	decision := filter.Decision{Verdict: filter.Accept}
	if c.d.Filter != nil {
		decision = c.d.Filter.Classify(filter.Input{Kind: ev.Kind, Content: ev.Content, SourceApp: ev.SourceApp})
	}

	if decision.Verdict == filter.Reject {
		if ev.Kind.IsBlob() {
			if _, err := c.d.Store.FindByHash(ctx, ev.Hash); errors.Is(err, common.ErrNotFound) {
				c.removeBlob(ctx, ev.Content)
			}
		}
		c.info(nil, "clipboard item not saved: %s (%s)", decision.Verdict, decision.Rule)
		return "blacklisted", nil
	}

	e := &models.HistoryEntry{
		Kind:        ev.Kind,
		Content:     ev.Content,
		ContentHash: ev.Hash,
		SourceApp:   ev.SourceApp,
		Sensitive:   decision.Verdict == filter.Flag,
	}
	res, err := c.d.Store.InsertHistory(ctx, e)
	if err != nil {
		return "error", err
	}

	switch res {
	case storage.Inserted:
		c.listUpdated(nil, "capture", e)
	case storage.Refreshed:
		c.info(nil, "duplicate suppressed; moved to top")
		c.listUpdated(nil, "refresh", e)
	case storage.PinnedKept:
		c.info(nil, "duplicate of a pinned item suppressed")
	}

	if c.queueMode {
		c.pasteQueue = append(c.pasteQueue, e.ID)
		c.info(nil, "added to queue; size: %d", len(c.pasteQueue))
	}

	if res == storage.Inserted {
		if n, err := c.evict(ctx); err != nil {
			c.log.Warn(ctx, "retention eviction failed", "error", err)
		} else if n > 0 {
			c.listUpdated(nil, "evict", nil)
		}
	}
	return strings.ReplaceAll(res.String(), "-", "_"), nil
}

func (c *Controller) evict(ctx context.Context) (int, error) {
	if c.opts.MaxHistoryItems <= 0 && c.opts.MaxHistoryAge <= 0 {
		return 0, nil
	}
	evicted, err := c.d.Store.EvictHistory(ctx, c.opts.MaxHistoryItems, c.opts.MaxHistoryAge)
	if err != nil {
		return 0, err
	}
	for _, e := range evicted {
		c.removeBlobs(ctx, e)
		c.dropFromQueue(e.ID)
	}
	return len(evicted), nil
}

func (c *Controller) removeBlobs(ctx context.Context, e models.HistoryEntry) {
	if e.Kind.IsBlob() {
		c.removeBlob(ctx, e.Content)
	}
}

func (c *Controller) removeBlob(ctx context.Context, path string) {
	if c.d.Blobs == nil {
		return
	}
	if err := c.d.Blobs.Remove(path); err != nil {
		c.log.Warn(ctx, "failed to remove blob", "path", path, "error", err)
	}
}

func (c *Controller) dropFromQueue(id int64) {
	kept := c.pasteQueue[:0]
	for _, q := range c.pasteQueue {
		if q != id {
			kept = append(kept, q)
		}
	}
	c.pasteQueue = kept
}
