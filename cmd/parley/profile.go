// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// profile is what the CLI needs to reopen an installation.
type profile struct {
	InboxID        string `json:"inbox_id"`
	InstallationID string `json:"installation_id"`
	DatabaseKey    []byte `json:"database_key"`
}

const databaseKeySize = 32

func profileDir(dataDir string) string { return filepath.Join(dataDir, "profiles") }

func profilePath(dataDir, inboxID string) string {
	return filepath.Join(profileDir(dataDir), inboxID+".json")
}

func newDatabaseKey() ([]byte, error) {
	key := make([]byte, databaseKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating database key: %w", err)
	}
	return key, nil
}

// saveProfile writes p readable by the owner only. An existing profile
// for the inbox is never overwritten.
func saveProfile(dataDir string, p profile) error {
	if strings.ContainsAny(p.InboxID, `/\`) || p.InboxID == "" || p.InboxID[0] == '.' {
		return fmt.Errorf("inbox ID %q cannot name a profile", p.InboxID)
	}
	if err := os.MkdirAll(profileDir(dataDir), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	file, err := os.OpenFile(profilePath(dataDir, p.InboxID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("inbox %s already has a profile", p.InboxID)
		}
		return err
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func loadProfile(dataDir, inboxID string) (profile, error) {
	data, err := os.ReadFile(profilePath(dataDir, inboxID))
	if err != nil {
		if os.IsNotExist(err) {
			return profile{}, fmt.Errorf("no profile for inbox %s; run 'parley init --inbox %s'", inboxID, inboxID)
		}
		return profile{}, err
	}
	var p profile
	if err := json.Unmarshal(data, &p); err != nil {
		return profile{}, fmt.Errorf("reading profile for %s: %w", inboxID, err)
	}
	return p, nil
}

func listProfiles(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(profileDir(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var inboxes []string
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(entry.Name(), ".json"); ok && !entry.IsDir() {
			inboxes = append(inboxes, name)
		}
	}
	slices.Sort(inboxes)
	return inboxes, nil
}

// selectProfile loads the named profile, or the only one when inboxID
// is empty.
func selectProfile(dataDir, inboxID string) (profile, error) {
	if inboxID != "" {
		return loadProfile(dataDir, inboxID)
	}
	inboxes, err := listProfiles(dataDir)
	if err != nil {
		return profile{}, err
	}
	switch len(inboxes) {
	case 0:
		return profile{}, fmt.Errorf("no inbox profiles; run 'parley init --inbox <name>'")
	case 1:
		return loadProfile(dataDir, inboxes[0])
	default:
		return profile{}, fmt.Errorf("several inbox profiles (%s); choose one with --as", strings.Join(inboxes, ", "))
	}
}
