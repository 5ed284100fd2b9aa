package storage

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// Scope selects what Search looks at.
type Scope struct {
	History  bool `json:"history"`
	Snippets bool `json:"snippets"`
	// IncludeLocked lets snippets of locked categories through.
	IncludeLocked bool `json:"include_locked"`
}

// AllUnlocked searches both indexes, skipping locked categories.
var AllUnlocked = Scope{History: true, Snippets: true}

// MatchQuery turns free text into an FTS5 expression: every term is quoted
// so operators in user input are literal, and the last term matches as a
// prefix. Terms without letters or digits produce no tokens and are
// dropped. It returns "" when there is nothing to search for.
func MatchQuery(q string) string {
	var quoted []string
	for _, t := range strings.Fields(q) {
		if strings.IndexFunc(t, isWordRune) < 0 {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	if len(quoted) == 0 {
		return ""
	}
	quoted[len(quoted)-1] += "*"
	return strings.Join(quoted, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Search ranks history and snippet hits by bm25 and merges them, best
// first. Masked snippet hits and sensitive history hits carry no content.
func (s *Store) Search(ctx context.Context, query string, scope Scope, limit int) ([]models.SearchResult, error) {
	match := MatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var results []models.SearchResult

	if scope.History {
		hits, err := s.repos.History(s.db).Search(ctx, match, limit)
		if err != nil {
			return nil, wrapErr("search history", err)
		}
		for _, h := range hits {
			e := h.Entry
			if e.Sensitive {
				e.Content = ""
			}
			results = append(results, models.SearchResult{
				Origin:  models.OriginHistory,
				ID:      e.ID,
				Rank:    h.Rank,
				History: &e,
			})
		}
	}

	if scope.Snippets {
		hits, err := s.repos.Snippets(s.db).Search(ctx, match, scope.IncludeLocked, limit)
		if err != nil {
			return nil, wrapErr("search snippets", err)
		}
		for _, h := range hits {
			sn := h.Snippet
			hide(&sn)
			results = append(results, models.SearchResult{
				Origin:  models.OriginSnippet,
				ID:      sn.ID,
				Rank:    h.Rank,
				Snippet: &sn,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Rank < results[j].Rank
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
