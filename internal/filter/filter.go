// Package filter classifies captured clipboard content before it is stored.
//
// A Filter holds a set of rules. Every rule is evaluated for every input and
// the most severe verdict wins (Reject over Flag over Accept). When several
// rules share the winning verdict, the one with the smallest name is
// reported, so the outcome never depends on the order rules were added in.
package filter

import (
	"sort"

	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// Verdict is the outcome of classifying one input. Higher is more severe.
type Verdict int

const (
	Accept Verdict = iota
	Flag
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Flag:
		return "sensitive"
	case Reject:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// Input is what the filter sees of a clipboard change. Content is only
// inspected for text entries.
type Input struct {
	Kind      models.Kind
	Content   string
	SourceApp string
}

// Decision is the classification result; Rule is empty on Accept.
type Decision struct {
	Verdict Verdict
	Rule    string
}

// Rule inspects an input and returns its own verdict.
type Rule interface {
	Name() string
	Evaluate(in Input) Verdict
}

type Filter struct {
	rules []Rule
}

// New builds a filter from rules. Rules are sorted by name once here.
func New(rules ...Rule) *Filter {
	rs := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			rs = append(rs, r)
		}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Name() < rs[j].Name() })
	return &Filter{rules: rs}
}

// Classify evaluates all rules against in.
func (f *Filter) Classify(in Input) Decision {
	best := Decision{Verdict: Accept}
	for _, r := range f.rules {
		v := r.Evaluate(in)
		if v > best.Verdict {
			best = Decision{Verdict: v, Rule: r.Name()}
		}
	}
	return best
}

// Rules returns the rule names in evaluation order.
func (f *Filter) Rules() []string {
	names := make([]string, 0, len(f.rules))
	for _, r := range f.rules {
		names = append(names, r.Name())
	}
	return names
}
