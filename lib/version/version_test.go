// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestFull(t *testing.T) {
	savedCommit, savedDirty, savedTime, savedVersion := GitCommit, GitDirty, BuildTime, Version
	t.Cleanup(func() {
		GitCommit, GitDirty, BuildTime, Version = savedCommit, savedDirty, savedTime, savedVersion
	})
	GitCommit, BuildTime, Version = "abc1234", "2026-10-19T00:00:00Z", "1.2.3"

	tests := []struct {
		dirty string
		want  string
	}{
		{"false", "1.2.3 (abc1234, 2026-10-19T00:00:00Z)\n"},
		{"true", "1.2.3 (abc1234-dirty, 2026-10-19T00:00:00Z)\n"},
	}
	for _, test := range tests {
		GitDirty = test.dirty
		full := Full()
		if !strings.HasPrefix(full, test.want) {
			t.Errorf("Full() with GitDirty=%s = %q, want prefix %q", test.dirty, full, test.want)
		}
		if !strings.Contains(full, runtime.Version()) || !strings.Contains(full, runtime.GOOS+"/"+runtime.GOARCH) {
			t.Errorf("Full() = %q, want the Go version and platform", full)
		}
	}
}

func TestFullWithoutLinkerStamp(t *testing.T) {
	savedCommit := GitCommit
	t.Cleanup(func() { GitCommit = savedCommit })
	GitCommit = "unknown"

	full := Full()
	if !strings.HasPrefix(full, Version+" (") {
		t.Errorf("Full() = %q, want it to start with the version", full)
	}
}
