package buildinfo

import (
	"strings"
	"testing"
)

func TestInfo_IncludesUptime(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "git_commit", "go_version", "uptime"} {
		if _, ok := info[k]; !ok {
			t.Errorf("Info() missing key %q", k)
		}
	}
	if _, ok := BuildInfo()["uptime"]; ok {
		t.Error("BuildInfo() should not include uptime")
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "GrowStudio/") {
		t.Errorf("UserAgent() = %q, want GrowStudio/ prefix", ua)
	}
}

func TestCommit_PrefersLdflags(t *testing.T) {
	orig := GitCommit
	t.Cleanup(func() { GitCommit = orig })

	GitCommit = "abc1234"
	if got := Commit(); got != "abc1234" {
		t.Errorf("Commit() = %q, want abc1234", got)
	}
	if got := BuildInfo()["git_commit"]; got != "abc1234" {
		t.Errorf("git_commit = %q, want abc1234", got)
	}
	if s := String(); !strings.Contains(s, "(abc1234)") {
		t.Errorf("String() = %q, want commit in parentheses", s)
	}
}

func TestCommit_Fallback(t *testing.T) {
	orig := GitCommit
	t.Cleanup(func() { GitCommit = orig })

	GitCommit = "unknown"
	// Test binaries carry no vcs stamp, so either the stamp or the
	// default is acceptable; it must never be empty.
	if got := Commit(); got == "" {
		t.Error("Commit() is empty")
	}
	if len(Commit()) > 12 && Commit() != "unknown" {
		t.Errorf("Commit() = %q, want at most 12 characters", Commit())
	}
}
