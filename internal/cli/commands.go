package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/controller"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/storage"
)

func (a *App) Recent(ctx context.Context, args []string) error {
	limit := a.pageSize
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return usage("recent [n]")
		}
		limit = n
	}
	return a.page(ctx, &controller.ListRecent{Limit: limit})
}

func (a *App) More(ctx context.Context) error {
	if a.next == nil {
		a.printf("no more entries\n")
		return nil
	}
	return a.page(ctx, &controller.ListRecent{After: a.next, Limit: a.pageSize})
}

func (a *App) page(ctx context.Context, cmd *controller.ListRecent) error {
	var page storage.Page
	if err := a.backend.Exec(ctx, cmd, &page); err != nil {
		return err
	}
	for _, e := range page.Items {
		a.printf("%s\n", formatEntry(e))
	}
	if len(page.Items) == 0 {
		a.printf("history is empty\n")
	}
	a.next = page.Next
	if a.next != nil {
		a.printf("(more)\n")
	}
	return nil
}

func (a *App) Search(ctx context.Context, args []string) error {
	query := strings.Join(args, " ")
	var hits []models.SearchResult
	if err := a.backend.Exec(ctx, &controller.Search{Query: query}, &hits); err != nil {
		return err
	}
	if query == "" {
		return a.Recent(ctx, nil)
	}
	if len(hits) == 0 {
		a.printf("no matches\n")
	}
	for _, h := range hits {
		switch {
		case h.History != nil:
			a.printf("%s\n", formatEntry(*h.History))
		case h.Snippet != nil:
			a.printf("%s\n", formatSnippet(*h.Snippet))
		}
	}
	return nil
}

func (a *App) Paste(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("paste <id|h:id|s:id>")
	}
	origin, id, err := parseRef(args[0])
	if err != nil {
		return usage("%v", err)
	}
	var res controller.PasteResult
	if err := a.backend.Exec(ctx, &controller.PasteItem{Origin: origin, ID: id}, &res); err != nil {
		return err
	}
	a.printf("copied %s %d to the clipboard\n", origin, id)
	return nil
}

func (a *App) oneID(args []string, name string) (int64, error) {
	if len(args) != 1 {
		return 0, usage("%s <id>", name)
	}
	id, err := parseID(args[0])
	if err != nil {
		return 0, usage("%v", err)
	}
	return id, nil
}

func (a *App) Pin(ctx context.Context, args []string) error {
	id, err := a.oneID(args, "pin")
	if err != nil {
		return err
	}
	var e models.HistoryEntry
	if err := a.backend.Exec(ctx, &controller.PinToggle{ID: id}, &e); err != nil {
		return err
	}
	if e.Pinned {
		a.printf("pinned %d\n", id)
	} else {
		a.printf("unpinned %d\n", id)
	}
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	id, err := a.oneID(args, "del")
	if err != nil {
		return err
	}
	if err := a.backend.Exec(ctx, &controller.DeleteHistory{ID: id}, nil); err != nil {
		return err
	}
	a.printf("deleted %d\n", id)
	return nil
}

func (a *App) Snippets(ctx context.Context, args []string) error {
	var cat int64
	if len(args) > 0 {
		id, err := parseID(args[0])
		if err != nil {
			return usage("snippets [category id]")
		}
		cat = id
	}
	var list []models.Snippet
	if err := a.backend.Exec(ctx, &controller.ListSnippets{CategoryID: cat}, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		a.printf("no snippets\n")
	}
	for _, s := range list {
		a.printf("%s\n", formatSnippet(s))
	}
	return nil
}

func (a *App) Snippet(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("snippet add|edit <id>|show <id>|reveal <id>|del <id>")
	}
	sub, rest := args[0], args[1:]

	if sub == "add" {
		return a.editSnippet(ctx, nil)
	}

	id, err := a.oneID(rest, "snippet "+sub)
	if err != nil {
		return err
	}

	switch sub {
	case "show", "reveal":
		var sn models.Snippet
		if err := a.backend.Exec(ctx, &controller.GetSnippet{ID: id, Reveal: sub == "reveal"}, &sn); err != nil {
			return err
		}
		a.printf("%s\n", formatSnippet(sn))
		if sub == "reveal" {
			a.printf("%s\n", sn.Content)
		}
		return nil
	case "edit":
		var sn models.Snippet
		if err := a.backend.Exec(ctx, &controller.GetSnippet{ID: id}, &sn); err != nil {
			return err
		}
		return a.editSnippet(ctx, &sn)
	case "del":
		if err := a.backend.Exec(ctx, &controller.DeleteSnippet{ID: id}, nil); err != nil {
			return err
		}
		a.printf("deleted snippet %d\n", id)
		return nil
	default:
		return usage("unknown snippet action %q", sub)
	}
}

// editSnippet prompts for the snippet fields. Empty answers keep the current
// value when editing; for masked content this keeps the stored secret.
func (a *App) editSnippet(ctx context.Context, cur *models.Snippet) error {
	var sn models.Snippet
	if cur != nil {
		sn = *cur
	}

	cat, err := GetSimpleText(a.reader, "Category id"+current(sn.CategoryID != 0, strconv.FormatInt(sn.CategoryID, 10)), a.out)
	if err != nil {
		return err
	}
	if cat != "" {
		if sn.CategoryID, err = parseID(cat); err != nil {
			return usage("%v", err)
		}
	}

	title, err := GetSimpleText(a.reader, "Title"+current(sn.Title != "", sn.Title), a.out)
	if err != nil {
		return err
	}
	if title != "" {
		sn.Title = title
	}

	masked, err := Confirm(a.reader, "Masked (encrypted)?", a.out)
	if err != nil {
		return err
	}
	sn.Masked = masked

	var content string
	if masked {
		secret, err := GetPassword(a.reader, "Secret content", a.out)
		if err != nil {
			return err
		}
		content = string(secret)
		common.WipeByteArray(secret)
	} else {
		if content, err = GetMultiline(a.reader, "Content", a.out); err != nil {
			return err
		}
		if content == "" && cur != nil && !cur.Masked {
			content = cur.Content
		}
	}

	var saved models.Snippet
	if cur == nil {
		err = a.backend.Exec(ctx, &controller.CreateSnippet{CategoryID: sn.CategoryID, Title: sn.Title, Content: content, Masked: sn.Masked}, &saved)
	} else {
		err = a.backend.Exec(ctx, &controller.UpdateSnippet{ID: sn.ID, CategoryID: sn.CategoryID, Title: sn.Title, Content: content, Masked: sn.Masked}, &saved)
	}
	if err != nil {
		return err
	}
	a.printf("saved %s\n", formatSnippet(saved))
	return nil
}

func current(ok bool, v string) string {
	if !ok {
		return ""
	}
	return " [" + v + "]"
}

func (a *App) Categories(ctx context.Context, args []string) error {
	if len(args) == 0 {
		var cats []models.Category
		if err := a.backend.Exec(ctx, &controller.ListCategories{}, &cats); err != nil {
			return err
		}
		for _, c := range cats {
			lock := ""
			if c.Locked {
				lock = " (locked)"
			}
			a.printf("[%d] %s %s%s\n", c.ID, c.Icon, c.Name, lock)
		}
		return nil
	}

	switch args[0] {
	case "add":
		if len(args) < 2 || len(args) > 3 || (len(args) == 3 && args[2] != "locked") {
			return usage("cats add <name> [locked]")
		}
		var cat models.Category
		cmd := &controller.CreateCategory{Label: args[1], Locked: len(args) == 3}
		if err := a.backend.Exec(ctx, cmd, &cat); err != nil {
			return err
		}
		a.printf("created category %d\n", cat.ID)
		return nil
	case "del":
		id, err := a.oneID(args[1:], "cats del")
		if err != nil {
			return err
		}
		ok, err := Confirm(a.reader, "Delete the category and all its snippets?", a.out)
		if err != nil || !ok {
			return err
		}
		if err := a.backend.Exec(ctx, &controller.DeleteCategory{ID: id}, nil); err != nil {
			return err
		}
		a.printf("deleted category %d\n", id)
		return nil
	default:
		return usage("cats [add <name> [locked]|del <id>]")
	}
}

func (a *App) Tag(ctx context.Context, args []string, remove bool) error {
	if len(args) != 2 {
		return usage("tag|untag <name> <id|h:id|s:id>")
	}
	origin, id, err := parseRef(args[1])
	if err != nil {
		return usage("%v", err)
	}
	if remove {
		return a.backend.Exec(ctx, &controller.UntagItem{Tag: args[0], ItemID: id, ItemType: itemType(origin)}, nil)
	}
	return a.backend.Exec(ctx, &controller.TagItem{Tag: args[0], ItemID: id, ItemType: itemType(origin)}, nil)
}

func (a *App) Tags(ctx context.Context) error {
	var tags []models.Tag
	if err := a.backend.Exec(ctx, &controller.ListTags{}, &tags); err != nil {
		return err
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	a.printf("%s\n", strings.Join(names, ", "))
	return nil
}

func (a *App) Unlock(ctx context.Context) error {
	pw, err := GetPassword(a.reader, "Master password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)
	return a.backend.Exec(ctx, &controller.Unlock{Password: pw}, nil)
}

func (a *App) Lock(ctx context.Context) error {
	return a.backend.Exec(ctx, &controller.Lock{}, nil)
}

func (a *App) ChangePassword(ctx context.Context) error {
	oldPw, err := GetPassword(a.reader, "Current password", a.out)
	if err != nil {
		return err
	}
	newPw, err := GetPassword(a.reader, "New password", a.out)
	if err != nil {
		common.WipeByteArray(oldPw)
		return err
	}
	again, err := GetPassword(a.reader, "Repeat new password", a.out)
	defer common.WipeByteArray(again)
	if err != nil || string(again) != string(newPw) {
		common.WipeByteArray(oldPw)
		common.WipeByteArray(newPw)
		if err != nil {
			return err
		}
		return usage("passwords do not match")
	}
	defer common.WipeByteArray(oldPw)
	defer common.WipeByteArray(newPw)
	return a.backend.Exec(ctx, &controller.ChangePassword{Old: oldPw, New: newPw}, nil)
}

func (a *App) Queue(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return usage("queue on|off")
	}
	return a.backend.Exec(ctx, &controller.ToggleQueueMode{Enabled: args[0] == "on"}, nil)
}

func (a *App) Next(ctx context.Context) error {
	var res controller.PasteResult
	if err := a.backend.Exec(ctx, &controller.NextQueueItem{}, &res); err != nil {
		return err
	}
	if res.ID != 0 {
		a.printf("copied %d, %d left in queue\n", res.ID, res.Remaining)
	}
	return nil
}

func (a *App) Evict(ctx context.Context) error {
	var n int
	if err := a.backend.Exec(ctx, &controller.Evict{}, &n); err != nil {
		return err
	}
	a.printf("evicted %d entries\n", n)
	return nil
}

func (a *App) Status(ctx context.Context) error {
	var st controller.Status
	if err := a.backend.Exec(ctx, &controller.GetStatus{}, &st); err != nil {
		return err
	}
	lock := "unlocked"
	if st.Locked {
		lock = "locked"
	}
	a.printf("state: %s, vault: %s, queue mode: %t (%d queued), pending captures: %d\n",
		st.State, lock, st.QueueMode, st.QueueLength, st.PendingEvents)
	return nil
}
