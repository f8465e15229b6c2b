package analyze

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/butai/internal/sandbox"
)

const lintFixture = `[
  {
    "filePath": "src/App.tsx",
    "messages": [
      {"ruleId": "no-unused-vars", "severity": 1, "message": "'x' is defined but never used.", "line": 3, "column": 7},
      {"ruleId": "no-undef", "severity": 2, "message": "'foo' is not defined.", "line": 9, "column": 1}
    ]
  },
  {"filePath": "src/main.tsx", "messages": []}
]`

func TestParseLintOutput(t *testing.T) {
	findings, err := ParseLintOutput(lintFixture)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "src/App.tsx", findings[0].FilePath)
	assert.Equal(t, SeverityWarning, findings[0].Severity)
	assert.Equal(t, "no-unused-vars", findings[0].RuleID)
	assert.Equal(t, 3, findings[0].Line)
	assert.Equal(t, SourceLint, findings[0].Source)

	assert.Equal(t, SeverityError, findings[1].Severity)
}

func TestParseLintOutputSkipsLeadingNoise(t *testing.T) {
	findings, err := ParseLintOutput("> acme-store@0.0.1 lint\n" + lintFixture)
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestParseLintOutputEmpty(t *testing.T) {
	findings, err := ParseLintOutput("  \n")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestParseLintOutputMalformed(t *testing.T) {
	_, err := ParseLintOutput("[{broken")
	require.Error(t, err)
}

func TestParseTypecheckOutput(t *testing.T) {
	raw := "src/App.tsx(12,5): error TS2322: Type 'number' is not assignable to type 'string'.\n" +
		"src/util.ts(4,10): error TS2304: Cannot find name 'Foo'.\n"

	findings := ParseTypecheckOutput(raw)
	require.Len(t, findings, 2)
	assert.Equal(t, "src/App.tsx", findings[0].FilePath)
	assert.Equal(t, 12, findings[0].Line)
	assert.Equal(t, 5, findings[0].Column)
	assert.Equal(t, "TS2322", findings[0].RuleID)
	assert.Equal(t, SeverityError, findings[0].Severity)
	assert.Equal(t, SourceTypecheck, findings[0].Source)
}

func TestParseTypecheckOutputAccumulatesContinuations(t *testing.T) {
	raw := "src/App.tsx(12,5): error TS2322: Type 'A' is not assignable to type 'B'.\n" +
		"  Types of property 'id' are incompatible.\n" +
		"    Type 'number' is not assignable to type 'string'.\n" +
		"src/util.ts(4,10): error TS2304: Cannot find name 'Foo'.\n"

	findings := ParseTypecheckOutput(raw)
	require.Len(t, findings, 2)
	assert.Contains(t, findings[0].Message, "Types of property 'id' are incompatible.")
	assert.Contains(t, findings[0].Message, "Type 'number' is not assignable to type 'string'.")
	assert.Equal(t, "Cannot find name 'Foo'.", findings[1].Message)
}

func TestParseTypecheckOutputIgnoresStrayText(t *testing.T) {
	findings := ParseTypecheckOutput("npm warn something\nall good\n")
	assert.Empty(t, findings)
}

func newAnalyzeRuntime(t *testing.T) *sandbox.LocalRuntime {
	t.Helper()
	rt, err := sandbox.NewLocalRuntime(t.TempDir(), 64*1024)
	require.NoError(t, err)
	_, err = rt.CreateSession(context.Background(), "default", "")
	require.NoError(t, err)
	return rt
}

func TestRunCollectsBothSources(t *testing.T) {
	rt := newAnalyzeRuntime(t)

	analyzer := NewAnalyzer(rt, Config{
		LintCommand:      `echo '[{"filePath":"src/App.tsx","messages":[{"ruleId":"no-undef","severity":2,"message":"bad","line":1,"column":1}]}]'`,
		TypecheckCommand: `echo "src/App.tsx(2,3): error TS2304: Cannot find name 'Foo'."`,
		Timeout:          10 * time.Second,
	})

	report, err := analyzer.Run(context.Background(), "default")
	require.NoError(t, err)
	require.Empty(t, report.Errors)
	require.Len(t, report.Findings, 2)

	sources := map[string]bool{}
	for _, f := range report.Findings {
		sources[f.Source] = true
	}
	assert.True(t, sources[SourceLint])
	assert.True(t, sources[SourceTypecheck])
}

func TestRunReportsToolFailureWithoutAborting(t *testing.T) {
	rt := newAnalyzeRuntime(t)

	analyzer := NewAnalyzer(rt, Config{
		LintCommand:      `echo 'not json at all {'`,
		TypecheckCommand: `echo "src/App.tsx(2,3): error TS2304: Cannot find name 'Foo'."`,
		Timeout:          10 * time.Second,
	})

	report, err := analyzer.Run(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "lint:")
	require.Len(t, report.Findings, 1)
	assert.Equal(t, SourceTypecheck, report.Findings[0].Source)
}

func TestMonitorErrors(t *testing.T) {
	rt := newAnalyzeRuntime(t)

	monitor := NewMonitor(rt, `echo '[{"message":"boom","source":"browser"}]' #`, 10*time.Second)
	errs, err := monitor.Errors(context.Background(), "default", false)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].Message)
}

func TestMonitorErrorsEmpty(t *testing.T) {
	rt := newAnalyzeRuntime(t)

	monitor := NewMonitor(rt, "true #", 10*time.Second)
	errs, err := monitor.Errors(context.Background(), "default", true)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestMonitorClearErrors(t *testing.T) {
	rt := newAnalyzeRuntime(t)

	monitor := NewMonitor(rt, "true #", 10*time.Second)
	require.NoError(t, monitor.ClearErrors(context.Background(), "default"))
}

func TestMonitorCommandFailure(t *testing.T) {
	rt := newAnalyzeRuntime(t)

	monitor := NewMonitor(rt, "false #", 10*time.Second)
	_, err := monitor.Errors(context.Background(), "default", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 1")
}

func TestMonitorLogs(t *testing.T) {
	rt := newAnalyzeRuntime(t)

	monitor := NewMonitor(rt, "echo 'app started' #", 10*time.Second)
	logs, err := monitor.Logs(context.Background(), "default")
	require.NoError(t, err)
	assert.Contains(t, logs, "app started")
}
