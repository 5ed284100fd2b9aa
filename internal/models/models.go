// Package models holds the persistent records of the clipboard engine:
// history entries, snippets, categories and tags, plus the search result
// envelope that merges hits from both indexes.
package models

import (
	"fmt"
	"time"
)

// Kind tags the payload of a history entry. The numeric values are part of
// the on-disk schema.
type Kind int

const (
	KindText     Kind = 1
	KindImageRef Kind = 2
	KindFileRef  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImageRef:
		return "image"
	case KindFileRef:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindText || k == KindImageRef || k == KindFileRef
}

// IsBlob reports whether the entry content is a path into the blob store.
func (k Kind) IsBlob() bool {
	return k == KindImageRef || k == KindFileRef
}

type HistoryEntry struct {
	ID          int64     `json:"id"`
	Kind        Kind      `json:"kind"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	SourceApp   string    `json:"source_app,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Pinned      bool      `json:"pinned"`
	Sensitive   bool      `json:"sensitive"`
}

// Preview returns a single-line, shortened view of the entry for listings.
// Sensitive entries are masked.
func (e HistoryEntry) Preview(max int) string {
	if e.Sensitive {
		return "••••••••"
	}
	return Shorten(e.Content, max)
}

// Sealed is an AEAD payload stored next to a masked snippet.
type Sealed struct {
	Nonce      []byte `json:"-"`
	Ciphertext []byte `json:"-"`
	Tag        []byte `json:"-"`
}

func (s Sealed) Empty() bool {
	return len(s.Nonce) == 0 && len(s.Ciphertext) == 0 && len(s.Tag) == 0
}

type Snippet struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	Masked     bool      `json:"masked"`
	UsageCount int64     `json:"usage_count"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Sealed holds the ciphertext of a masked snippet. It never leaves the
	// process through JSON.
	Sealed Sealed `json:"-"`
}

type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	SortOrder int    `json:"sort_order"`
	Locked    bool   `json:"locked"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ItemType discriminates the target of a tag link.
type ItemType string

const (
	ItemHistory ItemType = "history"
	ItemSnippet ItemType = "snippet"
)

func (t ItemType) Valid() bool {
	return t == ItemHistory || t == ItemSnippet
}

// Origin tells which index a search hit or a paste target comes from.
type Origin string

const (
	OriginHistory Origin = "history"
	OriginSnippet Origin = "snippet"
)

func (o Origin) Valid() bool {
	return o == OriginHistory || o == OriginSnippet
}

// SearchResult is one merged hit. Rank is the bm25 score; lower is better.
type SearchResult struct {
	Origin  Origin        `json:"origin"`
	ID      int64         `json:"id"`
	Rank    float64       `json:"rank"`
	History *HistoryEntry `json:"history,omitempty"`
	Snippet *Snippet      `json:"snippet,omitempty"`
}

// Shorten collapses newlines and cuts s to max runes, appending an ellipsis.
func Shorten(s string, max int) string {
	out := make([]rune, 0, max)
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
		if max > 0 && len(out) > max {
			return string(out[:max]) + "…"
		}
	}
	return string(out)
}
