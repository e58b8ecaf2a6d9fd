// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the parley command.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected with
// -ldflags -X in release builds. When the commit is not injected,
// [Full] reads the vcs.* settings the go command stamps into the
// binary, so development builds from a checkout still name their
// commit.
package version
