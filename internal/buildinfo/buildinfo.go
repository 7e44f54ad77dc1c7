// Package buildinfo reports the dashboard's version and build metadata.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Set at build time with -ldflags "-X github.com/cultimatics/growstudio/internal/buildinfo.Version=...".
// Left at their defaults, GitCommit and BuildTime fall back to the VCS stamp the
// go command embeds in module builds.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

var vcsOnce = sync.OnceValues(readVCS)

// readVCS returns the embedded vcs.revision (shortened) and vcs.time.
func readVCS() (revision, built string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
			if len(revision) > 12 {
				revision = revision[:12]
			}
		case "vcs.time":
			built = s.Value
		}
	}
	return revision, built
}

// Commit is GitCommit, or the embedded VCS revision when no ldflags
// value was provided.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	if rev, _ := vcsOnce(); rev != "" {
		return rev
	}
	return GitCommit
}

// Built is BuildTime, or the embedded VCS commit time.
func Built() string {
	if BuildTime != "unknown" {
		return BuildTime
	}
	if _, t := vcsOnce(); t != "" {
		return t
	}
	return BuildTime
}

// BuildInfo returns static build metadata.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": Commit(),
		"build_time": Built(),
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// Info is BuildInfo plus process uptime, as served on /health.
func Info() map[string]string {
	info := BuildInfo()
	info["uptime"] = Uptime().String()
	return info
}

func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on outbound HTTP requests to the controller board.
func UserAgent() string {
	return "GrowStudio/" + Version
}

// String returns a one-line summary for the startup log.
func String() string {
	return fmt.Sprintf("GrowStudio %s (%s) built %s", Version, Commit(), Built())
}
