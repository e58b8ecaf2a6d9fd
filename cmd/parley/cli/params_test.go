// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlags_Types(t *testing.T) {
	type params struct {
		JSONOutput
		Text     string        `flag:"text,t" desc:"message text"`
		Limit    int           `flag:"limit" desc:"maximum results" default:"20"`
		AfterNs  int64         `flag:"after-ns" desc:"exclusive lower bound"`
		Interval time.Duration `flag:"interval" desc:"poll interval" default:"2s"`
		Members  []string      `flag:"member" desc:"member inbox"`
		Untagged string
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if p.Limit != 20 || p.Interval != 2*time.Second {
		t.Errorf("defaults = %d/%v, want 20/2s", p.Limit, p.Interval)
	}

	err := flagSet.Parse([]string{
		"-t", "gm",
		"--after-ns", "1700000000000000000",
		"--member", "bob", "--member", "carol",
		"--json",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Text != "gm" {
		t.Errorf("Text = %q, want gm", p.Text)
	}
	if p.AfterNs != 1700000000000000000 {
		t.Errorf("AfterNs = %d", p.AfterNs)
	}
	if strings.Join(p.Members, ",") != "bob,carol" {
		t.Errorf("Members = %v, want [bob carol]", p.Members)
	}
	if !p.OutputJSON {
		t.Error("OutputJSON = false, want true from embedded JSONOutput")
	}
	if flagSet.Lookup("Untagged") != nil || flagSet.Lookup("untagged") != nil {
		t.Error("untagged field was bound")
	}
}

func TestBindFlags_Errors(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(struct{}{}, flagSet); err == nil {
		t.Error("expected error for a non-pointer")
	}
	type badDefault struct {
		Limit int `flag:"limit" default:"many"`
	}
	if err := BindFlags(&badDefault{}, flagSet); err == nil {
		t.Error("expected error for an unparsable default")
	}
	type unsupported struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&unsupported{}, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("expected error for an unsupported type")
	}
}

func TestFlagsFromParamsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FlagsFromParams did not panic on a non-struct")
		}
	}()
	FlagsFromParams("bad", new(int))
}

func TestWriteJSON(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteJSON(&buffer, normalizeNilSlice([]string(nil))); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("nil slice encoded as %q, want []", got)
	}

	var disabled JSONOutput
	if done, err := disabled.EmitJSON(&buffer, []int{1}); done || err != nil {
		t.Errorf("EmitJSON without --json = %v, %v; want false, nil", done, err)
	}
}
