// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"send", "send", 0},
		{"sned", "send", 2},
		{"mesages", "messages", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("messages", pflag.ContinueOnError)
	flagSet.String("conversation", "", "")
	flagSet.BoolP("ascending", "a", false, "")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--conversaton=x"}, "--conversation"},
		{[]string{"-a", "--ascendng"}, "--ascending"},
		{[]string{"--conversation", "x"}, ""},
		{[]string{"--unrelated-option"}, ""},
		{[]string{"--", "--conversaton"}, ""},
	}
	for _, test := range tests {
		if got := suggestFlag(test.args, flagSet); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
