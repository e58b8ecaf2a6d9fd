// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contenttype

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a versioned content type identity. The zero value is not a
// valid identity; use IsZero to check.
type ID struct {
	AuthorityID  string
	TypeID       string
	VersionMajor uint32
	VersionMinor uint32
}

// New returns an ID after validating its components. Authority and type
// must be non-empty and must not contain the separator characters used
// by the canonical form.
func New(authorityID, typeID string, major, minor uint32) (ID, error) {
	if authorityID == "" {
		return ID{}, fmt.Errorf("contenttype: empty authority")
	}
	if typeID == "" {
		return ID{}, fmt.Errorf("contenttype: empty type in authority %q", authorityID)
	}
	if strings.ContainsAny(authorityID, "/:") {
		return ID{}, fmt.Errorf("contenttype: authority %q contains '/' or ':'", authorityID)
	}
	if strings.ContainsAny(typeID, "/:") {
		return ID{}, fmt.Errorf("contenttype: type %q contains '/' or ':'", typeID)
	}
	return ID{
		AuthorityID:  authorityID,
		TypeID:       typeID,
		VersionMajor: major,
		VersionMinor: minor,
	}, nil
}

// Parse reads the canonical "{authority}/{type}:{major}.{minor}" form.
func Parse(raw string) (ID, error) {
	authority, rest, ok := strings.Cut(raw, "/")
	if !ok {
		return ID{}, fmt.Errorf("contenttype: %q is missing '/'", raw)
	}
	typeID, version, ok := strings.Cut(rest, ":")
	if !ok {
		return ID{}, fmt.Errorf("contenttype: %q is missing ':'", raw)
	}
	majorText, minorText, ok := strings.Cut(version, ".")
	if !ok {
		return ID{}, fmt.Errorf("contenttype: version %q in %q is not major.minor", version, raw)
	}
	major, err := strconv.ParseUint(majorText, 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("contenttype: major version in %q: %w", raw, err)
	}
	minor, err := strconv.ParseUint(minorText, 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("contenttype: minor version in %q: %w", raw, err)
	}
	return New(authority, typeID, uint32(major), uint32(minor))
}

// MustParse is like Parse but panics on error. Use in tests and static
// initialization where the input is known-valid.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("contenttype.MustParse(%q): %v", raw, err))
	}
	return id
}

// Key returns the canonical form. This exact string is the registry
// key and the envelope's wire tag.
func (id ID) Key() string {
	if id.IsZero() {
		return ""
	}
	return id.AuthorityID + "/" + id.TypeID + ":" +
		strconv.FormatUint(uint64(id.VersionMajor), 10) + "." +
		strconv.FormatUint(uint64(id.VersionMinor), 10)
}

// String returns Key.
func (id ID) String() string { return id.Key() }

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool { return id.AuthorityID == "" && id.TypeID == "" }

// SameType reports whether two identities name the same type,
// ignoring version. Registry lookup does not use this.
func (id ID) SameType(other ID) bool {
	return id.AuthorityID == other.AuthorityID && id.TypeID == other.TypeID
}

// WithVersion returns a copy of id at a different version.
func (id ID) WithVersion(major, minor uint32) ID {
	id.VersionMajor = major
	id.VersionMinor = minor
	return id
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (id *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
