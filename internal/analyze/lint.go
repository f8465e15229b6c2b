package analyze

import (
	"encoding/json"
	"fmt"
	"strings"
)

// lintFileResult mirrors the per-file shape of eslint's JSON formatter.
type lintFileResult struct {
	FilePath string        `json:"filePath"`
	Messages []lintMessage `json:"messages"`
}

type lintMessage struct {
	RuleID   string `json:"ruleId"`
	Severity int    `json:"severity"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// ParseLintOutput maps the lint tool's JSON report into normalized
// findings. Severity codes: 1 is a warning, 2 an error.
func ParseLintOutput(raw string) ([]Finding, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	// Tool banners and npm noise can precede the JSON document.
	if idx := strings.Index(trimmed, "["); idx > 0 {
		trimmed = trimmed[idx:]
	}

	var files []lintFileResult
	if err := json.Unmarshal([]byte(trimmed), &files); err != nil {
		return nil, fmt.Errorf("parse lint output: %w", err)
	}

	var findings []Finding
	for _, file := range files {
		for _, msg := range file.Messages {
			findings = append(findings, Finding{
				Message:  msg.Message,
				FilePath: file.FilePath,
				Line:     msg.Line,
				Column:   msg.Column,
				Severity: lintSeverity(msg.Severity),
				RuleID:   msg.RuleID,
				Source:   SourceLint,
			})
		}
	}
	return findings, nil
}

func lintSeverity(code int) string {
	if code >= 2 {
		return SeverityError
	}
	return SeverityWarning
}
