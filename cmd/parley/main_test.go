// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/contenttype"
	"github.com/bureau-foundation/parley/messaging"
)

// harness runs parley commands against one temporary root.
type harness struct {
	t          *testing.T
	configPath string
	root       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	configPath := filepath.Join(root, "parley.yaml")
	config := "environment: development\n" +
		"paths:\n  root: " + root + "\n" +
		"log:\n  level: error\n" +
		"client:\n  key_work_factor: 10\n"
	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return &harness{t: t, configPath: configPath, root: root}
}

// run executes parley with --config prepended and returns stdout.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var stdout bytes.Buffer
	err := run(append([]string{"--config", h.configPath}, args...), &stdout)
	return stdout.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("parley %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (h *harness) views(args ...string) []messageView {
	h.t.Helper()
	var views []messageView
	out := h.mustRun(append(args, "--json")...)
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		h.t.Fatalf("parsing messages output %q: %v", out, err)
	}
	return views
}

func findText(views []messageView, text string) (messageView, bool) {
	for _, view := range views {
		if view.Content == text {
			return view, true
		}
	}
	return messageView{}, false
}

func TestGroupConversationEndToEnd(t *testing.T) {
	h := newHarness(t)

	var created map[string]string
	if err := json.Unmarshal([]byte(h.mustRun("init", "--inbox", "alice", "--json")), &created); err != nil {
		t.Fatalf("parsing init output: %v", err)
	}
	if created["inbox_id"] != "alice" || created["installation_id"] == "" {
		t.Errorf("init output = %v, want alice with an installation", created)
	}
	h.mustRun("init", "--inbox", "bob")

	group := strings.TrimSpace(h.mustRun("--as", "alice", "group", "create", "--member", "bob", "--name", "planning"))
	if group == "" {
		t.Fatal("group create printed no ID")
	}
	sent := strings.TrimSpace(h.mustRun("--as", "alice", "send", "--conversation", group, "--text", "hello, world"))

	bobView := h.views("--as", "bob", "messages", "--conversation", group, "--ascending")
	hello, ok := findText(bobView, "hello, world")
	if !ok {
		t.Fatalf("bob's messages = %+v, missing hello, world", bobView)
	}
	if hello.ID != sent || hello.SenderInboxID != "alice" {
		t.Errorf("bob sees %s from %s, want %s from alice", hello.ID, hello.SenderInboxID, sent)
	}

	h.mustRun("--as", "bob", "send", "--conversation", group, "--react-to", sent, "--emoji", "👍")
	aliceView := h.views("--as", "alice", "messages", "--conversation", group, "--reactions")
	hello, ok = findText(aliceView, "hello, world")
	if !ok {
		t.Fatalf("alice's messages = %+v, missing hello, world", aliceView)
	}
	if len(hello.Reactions) != 1 || hello.Reactions[0].SenderInboxID != "bob" {
		t.Errorf("reactions = %+v, want one from bob", hello.Reactions)
	}
	for _, view := range aliceView {
		if view.ContentType == "xmtp.org/reaction:1.0" {
			t.Errorf("reaction %s listed as a top-level message", view.ID)
		}
	}

	h.mustRun("--as", "alice", "send", "--conversation", group, "--text", "**agenda**\n\n- one\n- two")
	rendered := ansi.Strip(h.mustRun("--as", "bob", "messages", "--conversation", group, "--markdown"))
	if !strings.Contains(rendered, "agenda") || !strings.Contains(rendered, "• one") {
		t.Errorf("markdown listing = %q, want the rendered agenda", rendered)
	}

	list := h.mustRun("--as", "bob", "conversations", "list")
	if !strings.Contains(list, group) || !strings.Contains(list, "planning") {
		t.Errorf("conversations list = %q, want the planning group", list)
	}
}

func TestPrepareAndPublish(t *testing.T) {
	h := newHarness(t)
	h.mustRun("init", "--inbox", "alice")
	h.mustRun("init", "--inbox", "bob")
	dm := strings.TrimSpace(h.mustRun("--as", "alice", "dm", "--peer", "bob"))

	staged := strings.TrimSpace(h.mustRun("--as", "alice", "send", "--conversation", dm, "--text", "draft", "--prepare"))
	pending := h.views("--as", "alice", "messages", "--conversation", dm, "--unpublished")
	if len(pending) != 1 || pending[0].ID != staged {
		t.Fatalf("unpublished = %+v, want only %s", pending, staged)
	}
	if _, ok := findText(h.views("--as", "bob", "messages", "--conversation", dm), "draft"); ok {
		t.Error("bob sees the draft before it is published")
	}

	h.mustRun("--as", "alice", "publish", "--conversation", dm)
	if pending := h.views("--as", "alice", "messages", "--conversation", dm, "--unpublished"); len(pending) != 0 {
		t.Errorf("unpublished after publish = %+v, want none", pending)
	}
	if _, ok := findText(h.views("--as", "bob", "messages", "--conversation", dm), "draft"); !ok {
		t.Error("bob does not see the published message")
	}
}

func TestSendContentFile(t *testing.T) {
	h := newHarness(t)
	h.mustRun("init", "--inbox", "alice")
	h.mustRun("init", "--inbox", "bob")
	dm := strings.TrimSpace(h.mustRun("--as", "alice", "dm", "--peer", "bob"))

	receipt := filepath.Join(h.root, "receipt.jsonc")
	if err := os.WriteFile(receipt, []byte("// nothing to say\n{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	h.mustRun("--as", "alice", "send", "--conversation", dm, "--type", "xmtp.org/readReceipt:1.0", "--content-file", receipt)

	receipts := h.views("--as", "bob", "messages", "--conversation", dm, "--type", "xmtp.org/readReceipt:1.0")
	if len(receipts) != 1 || receipts[0].Error != "" {
		t.Errorf("read receipts = %+v, want one decodable receipt", receipts)
	}

	if _, err := h.run("--as", "alice", "send", "--conversation", dm, "--type", "example.com/unknown:1.0", "--content-file", receipt); err == nil {
		t.Error("send of an unregistered type succeeded")
	}
}

func TestConsentCommand(t *testing.T) {
	h := newHarness(t)
	h.mustRun("init", "--inbox", "alice")
	h.mustRun("init", "--inbox", "bob")
	group := strings.TrimSpace(h.mustRun("--as", "alice", "group", "create", "--member", "bob"))

	if got := strings.TrimSpace(h.mustRun("--as", "bob", "consent", "--conversation", group)); got != "unknown" {
		t.Errorf("initial consent = %q, want unknown", got)
	}
	h.mustRun("--as", "bob", "consent", "--conversation", group, "--state", "denied")
	if got := strings.TrimSpace(h.mustRun("--as", "bob", "consent", "--conversation", group)); got != "denied" {
		t.Errorf("consent after deny = %q, want denied", got)
	}
	if _, err := h.run("--as", "bob", "consent", "--conversation", group, "--state", "unknown"); err == nil {
		t.Error("setting consent to unknown succeeded")
	}
	if _, err := h.run("--as", "bob", "consent"); err == nil {
		t.Error("consent without a target succeeded")
	}
}

func TestProfileSelection(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("conversations", "list"); err == nil || !strings.Contains(err.Error(), "no inbox profiles") {
		t.Errorf("err = %v, want no inbox profiles", err)
	}

	h.mustRun("init", "--inbox", "alice")
	h.mustRun("conversations", "list")

	h.mustRun("init", "--inbox", "bob")
	if _, err := h.run("conversations", "list"); err == nil || !strings.Contains(err.Error(), "--as") {
		t.Errorf("err = %v, want a request for --as", err)
	}
	if _, err := h.run("init", "--inbox", "bob"); err == nil {
		t.Error("second init for bob succeeded")
	}
}

func TestInitKeyFile(t *testing.T) {
	h := newHarness(t)
	keyPath := filepath.Join(h.root, "carol.key")
	if err := os.WriteFile(keyPath, []byte("00112233445566778899aabbccddeeff\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	h.mustRun("init", "--inbox", "carol", "--key-file", keyPath)

	saved, err := loadProfile(filepath.Join(h.root, "installations"), "carol")
	if err != nil {
		t.Fatalf("loadProfile: %v", err)
	}
	want := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if !bytes.Equal(saved.DatabaseKey, want) {
		t.Errorf("DatabaseKey = %x, want %x", saved.DatabaseKey, want)
	}
	h.mustRun("--as", "carol", "conversations", "list")

	if _, err := h.run("init", "--inbox", "dave", "--key-file", filepath.Join(h.root, "missing.key")); err == nil {
		t.Error("init with a missing key file succeeded")
	}
}

// pollType has no codec in the CLI's registry.
var pollType = contenttype.ID{AuthorityID: "example.org", TypeID: "poll", VersionMajor: 1}

type pollCodec struct{}

func (pollCodec) ContentType() contenttype.ID { return pollType }

func (pollCodec) Encode(content any) (*contentcodec.EncodedContent, error) {
	return &contentcodec.EncodedContent{Type: pollType, Content: []byte(content.(string))}, nil
}

func (pollCodec) Decode(encoded *contentcodec.EncodedContent) (any, error) {
	return string(encoded.Content), nil
}

func TestMessagesShowsUndecodableEnvelope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mustRun("init", "--inbox", "alice")
	h.mustRun("init", "--inbox", "bob")
	group := strings.TrimSpace(h.mustRun("--as", "alice", "group", "create", "--member", "bob"))

	sender := &app{configPath: h.configPath, inbox: "alice", out: io.Discard}
	s, err := sender.connect(ctx, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	conversation, err := findConversation(ctx, s, group)
	if err != nil {
		t.Fatalf("findConversation: %v", err)
	}
	s.client.RegisterCodec(pollCodec{})
	if _, err := conversation.Send(ctx, "lunch?", messaging.WithContentType(pollType)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var poll *messageView
	views := h.views("--as", "alice", "messages", "--conversation", group)
	for i := range views {
		if views[i].ContentType == pollType.Key() {
			poll = &views[i]
		}
	}
	if poll == nil {
		t.Fatalf("no %s message in %+v", pollType.Key(), views)
	}
	if !strings.Contains(poll.Error, "not decodable") {
		t.Errorf("Error = %q, want a not decodable error", poll.Error)
	}
	if !strings.Contains(poll.Envelope, `"example.org/poll:1.0"`) {
		t.Errorf("Envelope = %q, want the diagnostic notation naming the type", poll.Envelope)
	}

	out := ansi.Strip(h.mustRun("--as", "alice", "messages", "--conversation", group))
	if !strings.Contains(out, `"example.org/poll:1.0"`) {
		t.Errorf("listing does not show the undecodable envelope:\n%s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("mesages")
	if err == nil {
		t.Fatal("unknown command succeeded")
	}
	if !strings.Contains(err.Error(), `did you mean "messages"`) {
		t.Errorf("err = %v, want a suggestion of messages", err)
	}
}

func TestCodecs(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("codecs")
	for _, key := range []string{"xmtp.org/text:1.0", "xmtp.org/reaction:2.0", "xmtp.org/reply:1.0"} {
		if !strings.Contains(out, key) {
			t.Errorf("codecs output missing %s:\n%s", key, out)
		}
	}
}
