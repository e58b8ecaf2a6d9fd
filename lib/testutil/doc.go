// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by parley's tests.
//
// Streaming tests deliver events through channels fed by listener
// callbacks. [RequireReceive], [RequireNoReceive], and [RequireClosed]
// bound every such wait with a wall-clock timeout so a broken dispatch
// path fails the test instead of hanging it. These helpers are the only
// place the test suite waits on real time; everything else runs on
// lib/clock's fake.
//
// [UniqueID] produces distinct message bodies and names across tests
// that share a relay, and [Collector] gathers callback values into a
// channel.
//
// Failures call Fatalf; there is nothing to recover from in setup.
package testutil
