// Package version reports the version of the repo binary.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at link time with -ldflags "-X .../version.Commit=abc".
// When empty, the VCS revision recorded by the Go toolchain is used.
var Commit string

// Get returns the current version, with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Revision returns the short commit the binary was built from, or "".
func Revision() string {
	if Commit != "" {
		return shorten(Commit)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	rev, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return ""
	}
	rev = shorten(rev)
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// String returns the full version line printed by `repo version`.
func String() string {
	s := fmt.Sprintf("repo version %s", Get())
	if rev := Revision(); rev != "" {
		s += " (" + rev + ")"
	}
	return s + " " + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
}

func shorten(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
