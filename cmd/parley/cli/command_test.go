// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func run(called *string, name string) func(context.Context, []string, *slog.Logger) error {
	return func(context.Context, []string, *slog.Logger) error {
		*called = name
		return nil
	}
}

func TestExecute_DispatchesToSubcommand(t *testing.T) {
	var called string
	root := &Command{
		Name: "parley",
		Subcommands: []*Command{
			{Name: "version", Run: run(&called, "version")},
			{Name: "codecs", Run: run(&called, "codecs")},
		},
	}
	if err := root.Execute(context.Background(), []string{"codecs"}, slog.Default()); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "codecs" {
		t.Errorf("dispatched to %q, want %q", called, "codecs")
	}
}

func TestExecute_NestedSubcommandsAndFlags(t *testing.T) {
	var limit int
	var received []string
	list := &Command{
		Name: "list",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.IntVar(&limit, "limit", 0, "maximum results")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			received = args
			return nil
		},
	}
	root := &Command{
		Name:        "parley",
		Subcommands: []*Command{{Name: "conversations", Subcommands: []*Command{list}}},
	}

	err := root.Execute(context.Background(), []string{"conversations", "list", "--limit", "5", "extra"}, slog.Default())
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if limit != 5 {
		t.Errorf("limit = %d, want 5", limit)
	}
	if len(received) != 1 || received[0] != "extra" {
		t.Errorf("args = %v, want [extra]", received)
	}
	if got := list.fullName(); got != "parley conversations list" {
		t.Errorf("fullName = %q, want %q", got, "parley conversations list")
	}
}

func TestExecute_UnknownCommandSuggests(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:        "parley",
		Output:      &help,
		Subcommands: []*Command{{Name: "messages"}, {Name: "consent"}},
	}
	err := root.Execute(context.Background(), []string{"mesages"}, slog.Default())
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "messages"`) {
		t.Errorf("error = %q, want a suggestion for messages", err)
	}

	err = root.Execute(context.Background(), []string{"zzzzzzzz"}, slog.Default())
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for a distant name", err)
	}
}

func TestExecute_UnknownFlagSuggests(t *testing.T) {
	var conversation string
	command := &Command{
		Name: "send",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			flagSet.StringVar(&conversation, "conversation", "", "conversation id")
			return flagSet
		},
		Run: func(context.Context, []string, *slog.Logger) error { return nil },
	}
	err := command.Execute(context.Background(), []string{"--conversaton", "x"}, slog.Default())
	if err == nil || !strings.Contains(err.Error(), "did you mean --conversation") {
		t.Errorf("error = %v, want a --conversation suggestion", err)
	}
}

func TestExecute_SubcommandRequired(t *testing.T) {
	var help bytes.Buffer
	root := &Command{Name: "parley", Output: &help, Subcommands: []*Command{{Name: "dm", Summary: "Open a DM"}}}
	if err := root.Execute(context.Background(), nil, slog.Default()); err == nil {
		t.Error("expected an error without a subcommand")
	}
	if !strings.Contains(help.String(), "Open a DM") {
		t.Errorf("help output = %q, want the subcommand listing", help.String())
	}
}

func TestExecute_Help(t *testing.T) {
	var help bytes.Buffer
	var called string
	command := &Command{
		Name:        "send",
		Description: "Send a message.",
		Output:      &help,
		Examples:    []Example{{Description: "Send text", Command: "parley send --text hi"}},
		Run:         run(&called, "send"),
	}
	if err := command.Execute(context.Background(), []string{"--help"}, slog.Default()); err != nil {
		t.Fatalf("Execute(--help): %v", err)
	}
	if called != "" {
		t.Error("--help ran the command")
	}
	for _, want := range []string{"Send a message.", "Usage:", "# Send text", "parley send --text hi"} {
		if !strings.Contains(help.String(), want) {
			t.Errorf("help output missing %q:\n%s", want, help.String())
		}
	}
}

func TestExecute_RunError(t *testing.T) {
	failure := errors.New("boom")
	command := &Command{
		Name: "fail",
		Run:  func(context.Context, []string, *slog.Logger) error { return failure },
	}
	if err := command.Execute(context.Background(), nil, slog.Default()); !errors.Is(err, failure) {
		t.Errorf("Execute() = %v, want %v", err, failure)
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 3}
	coder, ok := err.(interface{ ExitCode() int })
	if !ok || coder.ExitCode() != 3 {
		t.Errorf("ExitError does not report code 3")
	}
	if err.Error() != "exit code 3" {
		t.Errorf("Error() = %q, want %q", err.Error(), "exit code 3")
	}
}
