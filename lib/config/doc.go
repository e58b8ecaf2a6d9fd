// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for parley tools.
//
// Configuration is loaded from a single file named by either the
// PARLEY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no automatic file search.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production logs at info unless the
// file sets a level.
//
// Path fields support ${HOME}, ${PARLEY_ROOT}, and ${VAR:-default}
// expansion after loading. No other environment variables override
// config values.
//
// This package depends on no other parley packages.
package config
