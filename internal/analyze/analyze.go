package analyze

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/butai/internal/concurrency"
	"github.com/harunnryd/butai/internal/sandbox"
)

// Finding is one normalized diagnostic from any analysis source.
type Finding struct {
	Message  string `json:"message"`
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	RuleID   string `json:"ruleId,omitempty"`
	Source   string `json:"source"`
}

const (
	SourceLint      = "lint"
	SourceTypecheck = "typecheck"
	SourceRuntime   = "runtime"

	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Report aggregates one static-analysis pass. Tool-level failures are
// carried in Errors; individual diagnostics never abort the pass.
type Report struct {
	Findings []Finding `json:"findings"`
	Errors   []string  `json:"errors,omitempty"`
}

type Config struct {
	LintCommand      string
	TypecheckCommand string
	Timeout          time.Duration
}

// Analyzer runs the lint tool and the type-checker inside the instance
// workspace and folds their output into normalized findings.
type Analyzer struct {
	runtime sandbox.Runtime
	cfg     Config
}

func NewAnalyzer(rt sandbox.Runtime, cfg Config) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Analyzer{runtime: rt, cfg: cfg}
}

// Run executes lint and typecheck concurrently against the session's
// workspace. A tool that fails to run is reported in Report.Errors, not
// as an operation failure.
func (a *Analyzer) Run(ctx context.Context, sessionID string) (*Report, error) {
	report := &Report{Findings: []Finding{}}

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	run := func(name, command string, parse func(*sandbox.ExecResult) ([]Finding, error)) {
		defer wg.Done()
		if command == "" {
			return
		}

		result, err := a.runtime.Exec(ctx, sessionID, command, a.cfg.Timeout)
		if err != nil {
			mu.Lock()
			report.Errors = append(report.Errors, name+": "+err.Error())
			mu.Unlock()
			return
		}

		// Both tools exit non-zero when they find problems; the exit
		// code is not a tool failure, the output still parses.
		findings, err := parse(result)
		if err != nil {
			mu.Lock()
			report.Errors = append(report.Errors, name+": "+err.Error())
			mu.Unlock()
			return
		}

		mu.Lock()
		report.Findings = append(report.Findings, findings...)
		mu.Unlock()
	}

	concurrency.SafeGo(func() {
		run("lint", a.cfg.LintCommand, func(res *sandbox.ExecResult) ([]Finding, error) {
			return ParseLintOutput(res.Stdout)
		})
	}, nil)

	concurrency.SafeGo(func() {
		run("typecheck", a.cfg.TypecheckCommand, func(res *sandbox.ExecResult) ([]Finding, error) {
			return ParseTypecheckOutput(res.Output()), nil
		})
	}, nil)

	wg.Wait()
	return report, nil
}
