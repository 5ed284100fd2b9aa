package filter

// Options is the configuration surface of the filter. It is embedded in the
// application config and decoded from JSON, YAML or the environment.
type Options struct {
	SourceApps        []string `json:"source_apps" yaml:"source_apps" envconfig:"SOURCE_APPS"`
	ContentSubstrings []string `json:"content_substrings" yaml:"content_substrings" envconfig:"CONTENT_SUBSTRINGS"`
	ContentPatterns   []string `json:"content_patterns" yaml:"content_patterns" envconfig:"CONTENT_PATTERNS"`
	SensitivePatterns []string `json:"sensitive_patterns" yaml:"sensitive_patterns" envconfig:"SENSITIVE_PATTERNS"`
	DetectCards       bool     `json:"detect_cards" yaml:"detect_cards" envconfig:"DETECT_CARDS"`
}

// DefaultOptions flags well-known secrets and card numbers and blacklists nothing.
func DefaultOptions() Options {
	return Options{
		SensitivePatterns: append([]string(nil), DefaultSensitivePatterns...),
		DetectCards:       true,
	}
}

// FromOptions builds the rule set described by o.
func FromOptions(o Options) (*Filter, error) {
	rules := []Rule{NewSourceBlacklist(o.SourceApps)}

	if len(o.ContentSubstrings) > 0 || len(o.ContentPatterns) > 0 {
		r, err := NewPatternRule("content-blacklist", Reject, o.ContentPatterns, o.ContentSubstrings)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	if len(o.SensitivePatterns) > 0 {
		r, err := NewPatternRule("sensitive-pattern", Flag, o.SensitivePatterns, nil)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	if o.DetectCards {
		rules = append(rules, CardNumber{})
	}

	return New(rules...), nil
}
