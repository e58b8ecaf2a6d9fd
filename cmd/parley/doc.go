// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Parley is a command-line client for the reference messaging engine.
//
// Every invocation opens the relay database and the installation
// databases named by the config file, acts as one local inbox, and
// exits. Inboxes are created with "parley init"; their installation
// ID and database key are kept in a profile under paths.data. Global
// flags come before the command:
//
//	parley --config parley.yaml --as alice send --conversation <id> --text gm
//
// "parley stream" stays running, polling the relay and printing new
// messages. With --metrics-listen (or metrics.listen) it serves the
// streaming metrics for Prometheus.
package main
