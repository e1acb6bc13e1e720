// Package attribution works out who is operating the CLI so confirmations
// are recorded against a person rather than "auto".
package attribution

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

var (
	cachedName string
	once       sync.Once
)

// DetectOperator returns the best available operator name.
// Checks in order: ROLLCALL_OPERATOR env, git config user.name, USER env,
// "unknown". The result is cached after the first call.
func DetectOperator() string {
	once.Do(func() {
		cachedName = detectOperatorUncached()
	})
	return cachedName
}

// detectOperatorUncached performs detection without caching.
func detectOperatorUncached() string {
	if name := strings.TrimSpace(os.Getenv("ROLLCALL_OPERATOR")); name != "" {
		return name
	}
	if name := gitUserName(); name != "" {
		return name
	}
	if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
		return name
	}
	return "unknown"
}

// gitUserName runs `git config --get user.name` and returns the trimmed result.
// Returns empty string on any error.
func gitUserName() string {
	out, err := exec.Command("git", "config", "--get", "user.name").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
