package proc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// Known dev-server launchers whose commands accept a --port flag.
var launcherNames = map[string]bool{
	"vite":     true,
	"next":     true,
	"astro":    true,
	"nuxt":     true,
	"remix":    true,
	"wrangler": true,
}

var (
	portFlagRe = regexp.MustCompile(`--port[= ]\d+`)
	portEnvRe  = regexp.MustCompile(`\bPORT=\d+`)
	quotedRe   = regexp.MustCompile(`"([^"]+)"`)
)

// RewriteLaunchScript forces every recognized launcher line in a launch
// script to use the allocated port. A concurrently line is patched only
// in its first matched quoted command.
func RewriteLaunchScript(script string, port int) string {
	lines := strings.Split(script, "\n")
	for i, line := range lines {
		if strings.Contains(line, "concurrently") {
			lines[i] = rewriteConcurrently(line, port)
			continue
		}
		lines[i] = RewriteLaunchCommand(line, port)
	}
	return strings.Join(lines, "\n")
}

// RewriteLaunchCommand rewrites a single launcher command for the port.
// Unrecognized commands come back unchanged.
func RewriteLaunchCommand(command string, port int) string {
	if portFlagRe.MatchString(command) {
		return portFlagRe.ReplaceAllString(command, fmt.Sprintf("--port %d", port))
	}
	if portEnvRe.MatchString(command) {
		return portEnvRe.ReplaceAllString(command, fmt.Sprintf("PORT=%d", port))
	}
	if isLauncher(command) {
		return strings.TrimRight(command, " ") + fmt.Sprintf(" --port %d", port)
	}
	return command
}

func rewriteConcurrently(line string, port int) string {
	patched := false
	return quotedRe.ReplaceAllStringFunc(line, func(match string) string {
		if patched {
			return match
		}
		inner := strings.Trim(match, `"`)
		rewritten := RewriteLaunchCommand(inner, port)
		if rewritten == inner {
			return match
		}
		patched = true
		return `"` + rewritten + `"`
	})
}

func isLauncher(command string) bool {
	tokens, err := shlex.Split(command)
	if err != nil {
		tokens = strings.Fields(command)
	}

	for _, token := range tokens {
		// npm scripts invoke launchers through npx or a bin path.
		name := token[strings.LastIndex(token, "/")+1:]
		if launcherNames[name] {
			return true
		}
	}
	return false
}
