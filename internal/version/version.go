// Package version holds the build identity of the tutor binary. The values
// are set at build time with -ldflags "-X .../internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String is the line printed by `tutor version`.
func String() string {
	return fmt.Sprintf("tutor version %s (commit %s, built %s)", Version, Commit, BuildTime)
}

// UserAgent identifies the tutor to LLM providers.
func UserAgent() string {
	return "academia-tutor/" + Version
}
