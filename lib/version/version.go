// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Release builds set these with -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/parley/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/parley
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Full returns the version line printed by parley version: the
// version, the commit (marked -dirty when built from a modified tree),
// the build time, the Go version, and the platform. Values not
// injected at link time fall back to the VCS stamp the go command
// embeds.
func Full() string {
	commit, dirty, built := stamp()
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)\n  Go: %s\n  Platform: %s/%s",
		Version, commit, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func stamp() (commit string, dirty bool, built string) {
	commit, dirty, built = GitCommit, GitDirty == "true", BuildTime
	if commit != "unknown" {
		return commit, dirty, built
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, dirty, built
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > 7 {
				commit = commit[:7]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		case "vcs.time":
			if built == "unknown" {
				built = setting.Value
			}
		}
	}
	return commit, dirty, built
}
