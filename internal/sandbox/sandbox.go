package sandbox

import "time"

// Session is a cwd-bound command channel inside a sandbox. The working
// directory must always equal the owning instance's workspace path.
type Session struct {
	ID        string
	Cwd       string
	CreatedAt time.Time
}

type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns combined trimmed output, stderr appended after stdout.
func (r *ExecResult) Output() string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Stderr
	}
	return out
}

type ProcessInfo struct {
	ID        string
	SessionID string
	Command   string
	Running   bool
	StartedAt time.Time
}
