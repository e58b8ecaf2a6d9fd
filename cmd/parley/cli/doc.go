// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the parley CLI.
//
// The central type is [Command]: a named command with optional nested
// [Command.Subcommands], a [pflag.FlagSet] factory, and a Run function.
// [Command.Execute] parses flags, routes subcommands, and prints help
// with examples. Unknown commands and flags get a "did you mean"
// suggestion when one is within edit distance 3.
//
// Parameter structs bind flags through struct tags ([BindFlags],
// [FlagsFromParams]); embedding [JSONOutput] adds --json.
// [NewCommandLogger] picks a text or JSON slog handler depending on
// whether stderr is a terminal, and [Styles] renders message listings.
package cli
