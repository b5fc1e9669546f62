// Package version holds the build identity of the profiler. The variables
// are overridden at link time, e.g.
//
//	go build -ldflags "-X github.com/Mortal/austin/pkg/version.Version=3.7.0"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// String returns the one-line banner printed by -V.
func String() string {
	commit, date := GitCommit, BuildDate
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "":
				commit = s.Value
			case s.Key == "vcs.time" && date == "":
				date = s.Value
			}
		}
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}

	banner := "austin " + Version
	if commit != "" {
		banner += " (" + commit
		if date != "" {
			banner += ", " + date
		}
		banner += ")"
	}
	return fmt.Sprintf("%s %s/%s %s", banner, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
