package analyze

import (
	"regexp"
	"strconv"
	"strings"
)

// diagnosticRe matches tsc's non-pretty diagnostic lines:
//
//	src/App.tsx(12,5): error TS2322: Type 'number' is not assignable ...
var diagnosticRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\): (error|warning) (TS\d+): (.*)$`)

// ParseTypecheckOutput parses line-oriented type-checker output. Lines
// that do not open a new diagnostic are continuations and accumulate
// into the previous diagnostic's message.
func ParseTypecheckOutput(raw string) []Finding {
	var findings []Finding

	for _, line := range strings.Split(raw, "\n") {
		m := diagnosticRe.FindStringSubmatch(line)
		if m == nil {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && len(findings) > 0 {
				last := &findings[len(findings)-1]
				last.Message += " " + trimmed
			}
			continue
		}

		lineNo, _ := strconv.Atoi(m[2])
		colNo, _ := strconv.Atoi(m[3])
		findings = append(findings, Finding{
			Message:  m[6],
			FilePath: m[1],
			Line:     lineNo,
			Column:   colNo,
			Severity: m[4],
			RuleID:   m[5],
			Source:   SourceTypecheck,
		})
	}

	return findings
}
