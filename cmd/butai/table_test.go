package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harunnryd/butai/internal/orchestrator"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "exactly-10", truncateString("exactly-10", 10))
	assert.Equal(t, "0123456...", truncateString("0123456789x", 10))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}

func TestFormatInstancesEmpty(t *testing.T) {
	out := newInstanceFormatter().FormatInstances(nil)
	assert.Equal(t, "No instances found", out)
}

func TestFormatInstancesRendersRows(t *testing.T) {
	out := newInstanceFormatter().FormatInstances([]orchestrator.InstanceStatus{
		{RunID: "run-1", ProjectName: "acme-store", TemplateName: "base-template", AllocatedPort: 8123, Running: true, StartTime: time.Now()},
	})
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "acme-store")
	assert.Contains(t, out, "8123")
}

func TestFormatCreateResult(t *testing.T) {
	out := formatCreateResult(&orchestrator.CreateResult{
		Success:    true,
		Status:     orchestrator.StatusOk,
		RunID:      "run-1",
		PreviewURL: "http://localhost:8123",
		Ready:      true,
	})
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "http://localhost:8123")
	assert.NotContains(t, out, "not confirmed")
}
