package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

// DefaultSensitivePatterns match credentials that commonly end up on the
// clipboard: API keys, cloud access keys, chat tokens, JWTs and PEM keys.
var DefaultSensitivePatterns = []string{
	`\bsk-[A-Za-z0-9_-]{20,}`,
	`\bAKIA[0-9A-Z]{16}\b`,
	`(?i)\bghp_[A-Za-z0-9]{20,}\b`,
	`(?i)\bgithub_pat_[A-Za-z0-9_]{20,}\b`,
	`(?i)\bxox[baprs]-[A-Za-z0-9-]{10,}\b`,
	`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`,
	`-----BEGIN (?:RSA |EC |OPENSSH |ENCRYPTED )?PRIVATE KEY-----`,
	`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*\S+`,
}

// SourceBlacklist rejects content copied from the listed applications.
// Matching is case-insensitive on a substring of the reported app name.
type SourceBlacklist struct {
	apps []string
}

func NewSourceBlacklist(apps []string) *SourceBlacklist {
	lower := make([]string, 0, len(apps))
	for _, a := range apps {
		a = strings.TrimSpace(strings.ToLower(a))
		if a != "" {
			lower = append(lower, a)
		}
	}
	return &SourceBlacklist{apps: lower}
}

func (r *SourceBlacklist) Name() string { return "source-blacklist" }

func (r *SourceBlacklist) Evaluate(in Input) Verdict {
	if in.SourceApp == "" {
		return Accept
	}
	src := strings.ToLower(in.SourceApp)
	for _, a := range r.apps {
		if strings.Contains(src, a) {
			return Reject
		}
	}
	return Accept
}

// PatternRule returns its verdict when any of its expressions matches text
// content. Non-text kinds are never inspected.
type PatternRule struct {
	name     string
	verdict  Verdict
	patterns []*regexp.Regexp
	literals []string
}

// NewPatternRule compiles patterns; literals are matched case-insensitively.
func NewPatternRule(name string, verdict Verdict, patterns, literals []string) (*PatternRule, error) {
	r := &PatternRule{name: name, verdict: verdict}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("rule %s: compile %q: %w", name, p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	for _, l := range literals {
		if l = strings.ToLower(l); l != "" {
			r.literals = append(r.literals, l)
		}
	}
	return r, nil
}

func (r *PatternRule) Name() string { return r.name }

func (r *PatternRule) Evaluate(in Input) Verdict {
	if in.Kind != models.KindText || in.Content == "" {
		return Accept
	}
	if len(r.literals) > 0 {
		lc := strings.ToLower(in.Content)
		for _, l := range r.literals {
			if strings.Contains(lc, l) {
				return r.verdict
			}
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(in.Content) {
			return r.verdict
		}
	}
	return Accept
}

var cardCandidate = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)

// CardNumber flags text containing a 13–19 digit number passing the Luhn check.
type CardNumber struct{}

func (CardNumber) Name() string { return "card-number" }

func (CardNumber) Evaluate(in Input) Verdict {
	if in.Kind != models.KindText {
		return Accept
	}
	for _, m := range cardCandidate.FindAllString(in.Content, -1) {
		digits := make([]byte, 0, len(m))
		for i := 0; i < len(m); i++ {
			if m[i] >= '0' && m[i] <= '9' {
				digits = append(digits, m[i]-'0')
			}
		}
		if len(digits) >= 13 && len(digits) <= 19 && luhn(digits) {
			return Flag
		}
	}
	return Accept
}

func luhn(digits []byte) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i])
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
