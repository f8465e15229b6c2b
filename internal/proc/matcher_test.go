package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Captured log fixtures from the launcher families the matcher must
// recognize.
const (
	viteReadyLogs = `
  VITE v5.2.8  ready in 312 ms
`
	nextLogs = `
   - Local:        http://localhost:8123
 + Ready in 2.1s
`
	hostLineLogs = `  ->  Local:   awaiting connections on port 8123
`
	genericLogs = `Server running at port 8123
`
	nodeLogs = `app listening on 0.0.0.0:8123`
)

func TestReadinessMatcherFixtures(t *testing.T) {
	m := NewReadinessMatcher(nil)

	tests := []struct {
		name    string
		logs    string
		pattern string
	}{
		{"vite ready line", viteReadyLogs, "ready-in"},
		{"next url", nextLogs, "url"},
		{"host line", hostLineLogs, "host-line"},
		{"generic banner", genericLogs, "running"},
		{"node listening", nodeLogs, "listening"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern, matched, ok := m.Match(tt.logs)
			assert.True(t, ok)
			assert.Equal(t, tt.pattern, pattern)
			assert.NotEmpty(t, matched)
		})
	}
}

func TestReadinessMatcherFirstPatternWins(t *testing.T) {
	m := NewReadinessMatcher(nil)

	// Both a ready line and a URL present: the URL pattern is ordered first.
	pattern, matched, ok := m.Match(viteReadyLogs + "  ->  Local: http://localhost:8123/\n")
	assert.True(t, ok)
	assert.Equal(t, "url", pattern)
	assert.Contains(t, matched, "http://")
}

func TestReadinessMatcherNoMatch(t *testing.T) {
	m := NewReadinessMatcher(nil)

	_, _, ok := m.Match("installing dependencies...\nadded 300 packages\n")
	assert.False(t, ok)

	_, _, ok = m.Match("")
	assert.False(t, ok)
}
