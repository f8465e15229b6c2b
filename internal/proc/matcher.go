package proc

import "regexp"

// Pattern is one readiness predicate over captured dev-server logs.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// ReadinessMatcher runs an ordered pattern list over a log window; the
// first match wins. Kept free of process plumbing so it can be exercised
// against captured log fixtures.
type ReadinessMatcher struct {
	patterns []Pattern
}

// DefaultReadinessPatterns covers the launcher output families seen from
// generated projects: printed URLs, vite-style ready lines, host lines
// and generic server banners.
func DefaultReadinessPatterns() []Pattern {
	return []Pattern{
		{Name: "url", Re: regexp.MustCompile(`https?://[^\s]+`)},
		{Name: "ready-in", Re: regexp.MustCompile(`ready in \d+\s*ms`)},
		{Name: "host-line", Re: regexp.MustCompile(`(Local|Network):\s`)},
		{Name: "listening", Re: regexp.MustCompile(`(?i)listening on`)},
		{Name: "running", Re: regexp.MustCompile(`(?i)server (is )?running`)},
	}
}

func NewReadinessMatcher(patterns []Pattern) *ReadinessMatcher {
	if len(patterns) == 0 {
		patterns = DefaultReadinessPatterns()
	}
	return &ReadinessMatcher{patterns: patterns}
}

// Match returns the name of the first matching pattern and the matched
// text.
func (m *ReadinessMatcher) Match(logs string) (pattern string, matched string, ok bool) {
	if logs == "" {
		return "", "", false
	}
	for _, p := range m.patterns {
		if found := p.Re.FindString(logs); found != "" {
			return p.Name, found, true
		}
	}
	return "", "", false
}
