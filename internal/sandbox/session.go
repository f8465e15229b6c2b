package sandbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultSessionID is the shared session for instance-agnostic work
	// such as template staging and metadata scans.
	DefaultSessionID = "default"

	AllocationOneToOne  = "one_to_one"
	AllocationManyToOne = "many_to_one"

	sessionProbeTimeout = 10 * time.Second
)

// SessionManager caches cwd-bound sessions per instance. Entries are
// owned by one orchestrator and invalidated explicitly on shutdown.
type SessionManager struct {
	mu       sync.Mutex
	runtime  Runtime
	cache    map[string]*Session
	strategy string
	poolSize int
}

func NewSessionManager(rt Runtime, strategy string, poolSize int) *SessionManager {
	if strategy == "" {
		strategy = AllocationOneToOne
	}
	if poolSize <= 0 {
		poolSize = 1
	}

	return &SessionManager{
		runtime:  rt,
		cache:    make(map[string]*Session),
		strategy: strategy,
		poolSize: poolSize,
	}
}

// GetOrCreate returns a session bound to cwd. On a cache hit the working
// directory is re-verified and healed with a cd when it has drifted;
// persistent drift is logged, never returned as an error.
func (m *SessionManager) GetOrCreate(ctx context.Context, id, cwd string) (*Session, error) {
	m.mu.Lock()
	cached, ok := m.cache[id]
	m.mu.Unlock()

	if ok {
		m.healCwd(ctx, cached, cwd)
		return cached, nil
	}

	sess, err := m.runtime.CreateSession(ctx, id, cwd)
	if err != nil {
		// Another path may have created it inside the runtime already.
		sess, err = m.runtime.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get or create session %s: %w", id, err)
		}
		m.healCwd(ctx, sess, cwd)
	}

	m.mu.Lock()
	m.cache[id] = sess
	m.mu.Unlock()

	return sess, nil
}

func (m *SessionManager) healCwd(ctx context.Context, sess *Session, cwd string) {
	if cwd == "" {
		return
	}

	result, err := m.runtime.Exec(ctx, sess.ID, "pwd", sessionProbeTimeout)
	if err != nil {
		slog.Warn("Session cwd probe failed", "session_id", sess.ID, "error", err)
		return
	}

	actual := result.Stdout
	if actual == cwd {
		return
	}

	slog.Debug("Session cwd drifted, changing directory",
		"session_id", sess.ID, "actual", actual, "expected", cwd)

	result, err = m.runtime.Exec(ctx, sess.ID, fmt.Sprintf("cd %q", cwd), sessionProbeTimeout)
	if err != nil || result.ExitCode != 0 {
		slog.Warn("Session cwd heal failed",
			"session_id", sess.ID, "expected", cwd, "error", err)
	}
}

// Invalidate drops cached sessions whose id has the given prefix.
func (m *SessionManager) Invalidate(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.cache {
		if id == prefix || hasSessionPrefix(id, prefix) {
			delete(m.cache, id)
		}
	}
}

// ContainerID maps a session id onto a physical sandbox. Under the
// many_to_one strategy the same id always lands on the same member of
// the fixed-size pool; one_to_one dedicates a sandbox per session.
func (m *SessionManager) ContainerID(sessionID string) string {
	if m.strategy != AllocationManyToOne {
		return sessionID
	}

	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return fmt.Sprintf("pool-%d", h.Sum32()%uint32(m.poolSize))
}

// WorkspaceRoot resolves the directory namespace an instance's
// workspace lives under. Pooled sandboxes prefix paths with their pool
// member so instances sharing a container never collide; dedicated
// sandboxes use the base directory as-is.
func (m *SessionManager) WorkspaceRoot(baseDir, instanceID string) string {
	if m.strategy != AllocationManyToOne {
		return baseDir
	}
	return filepath.Join(baseDir, m.ContainerID(instanceID))
}

func hasSessionPrefix(id, prefix string) bool {
	return len(id) > len(prefix) && id[:len(prefix)] == prefix && id[len(prefix)] == '-'
}
