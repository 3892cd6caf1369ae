// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// startTime records when the process started.
var startTime = time.Now()

// BuildInfo returns build and runtime metadata as a map. Uptime is
// included so the map can back the !stats command and the version
// subcommand alike.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is the User-Agent sent on every outbound HTTP request.
func UserAgent() string {
	return "terrarium-irc/" + Version + " (+https://github.com/nugget/terrarium-irc)"
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Terrarium %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
