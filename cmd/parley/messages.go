// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/cmd/parley/cli"
	"github.com/bureau-foundation/parley/lib/codec"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/contenttype"
	"github.com/bureau-foundation/parley/messaging"
)

type messagesParams struct {
	cli.JSONOutput
	Conversation string   `flag:"conversation" desc:"conversation ID"`
	Limit        int      `flag:"limit" desc:"maximum messages to show"`
	AfterNs      int64    `flag:"after-ns" desc:"only messages sent after this time (exclusive, ns)"`
	BeforeNs     int64    `flag:"before-ns" desc:"only messages sent before this time (exclusive, ns)"`
	Ascending    bool     `flag:"ascending" desc:"oldest first"`
	Types        []string `flag:"type" desc:"only these content type keys"`
	ExcludeTypes []string `flag:"exclude-type" desc:"skip these content type keys"`
	Unpublished  bool     `flag:"unpublished" desc:"only messages staged but not yet published"`
	Reactions    bool     `flag:"reactions" desc:"group reactions under the messages they reference"`
	Markdown     bool     `flag:"markdown" desc:"render text bodies as markdown"`
	Sync         bool     `flag:"sync" desc:"pull from the network first" default:"true"`
}

func (p *messagesParams) query() (messaging.MessageQuery, error) {
	query := messaging.MessageQuery{
		Limit:        p.Limit,
		SentAfterNs:  p.AfterNs,
		SentBeforeNs: p.BeforeNs,
	}
	if p.Ascending {
		query.Direction = bridge.Ascending
	}
	if p.Unpublished {
		query.DeliveryStatus = bridge.DeliveryUnpublished
	}
	var err error
	if query.ContentTypes, err = parseContentTypes(p.Types); err != nil {
		return query, err
	}
	if query.ExcludeContentTypes, err = parseContentTypes(p.ExcludeTypes); err != nil {
		return query, err
	}
	return query, nil
}

func parseContentTypes(keys []string) ([]contenttype.ID, error) {
	var ids []contenttype.ID
	for _, key := range keys {
		id, err := contenttype.Parse(key)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *app) messagesCommand() *cli.Command {
	var params messagesParams
	return &cli.Command{
		Name:    "messages",
		Summary: "Show a conversation's messages",
		Description: `Show messages, newest first unless --ascending is given.

Content without a registered codec shows its fallback text. Content
with neither is marked undecodable. Time bounds are exclusive, so the
oldest sent_at_ns of one page is the --before-ns of the next.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("messages", &params) },
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			query, err := params.query()
			if err != nil {
				return err
			}
			return a.withSession(ctx, logger, func(s *session) error {
				conversation, err := findConversation(ctx, s, params.Conversation)
				if err != nil {
					return err
				}
				if params.Sync {
					if err := conversation.Sync(ctx); err != nil {
						return err
					}
				}

				var listing []messageView
				if params.Reactions {
					threads, err := conversation.MessagesWithReactions(ctx, query)
					if err != nil {
						return err
					}
					for _, thread := range threads {
						view := viewOf(thread.DecodedMessage)
						view.Reactions = make([]messageView, len(thread.Reactions))
						for i, reaction := range thread.Reactions {
							view.Reactions[i] = viewOf(reaction)
						}
						listing = append(listing, view)
					}
				} else {
					fetched, err := conversation.Messages(ctx, query)
					if err != nil {
						return err
					}
					for _, message := range fetched {
						listing = append(listing, viewOf(message))
					}
				}

				if done, err := params.EmitJSON(a.out, listing); done {
					return err
				}
				printer := newMessagePrinter(a.out, s, params.Markdown)
				for _, view := range listing {
					printer.print(view)
				}
				return nil
			})
		},
	}
}

// messageView is one message as the messages and stream commands
// report it.
type messageView struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id"`
	SenderInboxID  string                `json:"sender_inbox_id"`
	SentAtNs       int64                 `json:"sent_at_ns"`
	DeliveryStatus bridge.DeliveryStatus `json:"delivery_status"`
	ContentType    string                `json:"content_type"`
	Content        any                   `json:"content,omitempty"`
	Fallback       *string               `json:"fallback,omitempty"`
	Error          string                `json:"error,omitempty"`
	Envelope       string                `json:"envelope,omitempty"`
	Reactions      []messageView         `json:"reactions,omitempty"`
}

func viewOf(message *messaging.DecodedMessage) messageView {
	view := messageView{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderInboxID:  message.SenderInboxID,
		SentAtNs:       message.SentAtNs,
		DeliveryStatus: message.DeliveryStatus,
		ContentType:    message.ContentType.Key(),
	}
	if fallback, ok := message.Fallback(); ok {
		view.Fallback = &fallback
	}
	content, err := message.Content()
	if err != nil {
		view.Error = err.Error()
		if errors.Is(err, contentcodec.ErrContentNotDecodable) {
			view.Envelope = diagnose(message.Raw())
		}
	} else {
		view.Content = content
	}
	return view
}

// diagnose renders an envelope no local codec understands in CBOR
// diagnostic notation, or "" when it is not valid CBOR.
func diagnose(envelope []byte) string {
	notation, err := codec.Diagnose(envelope)
	if err != nil {
		return ""
	}
	return notation
}

type messagePrinter struct {
	out      io.Writer
	styles   cli.Styles
	self     string
	registry *contentcodec.Registry
	// markdown is nil when bodies print verbatim.
	markdown *cli.Markdown
}

// bodyIndent starts the continuation lines of a multi-line body.
const bodyIndent = "    "

func newMessagePrinter(out io.Writer, s *session, markdown bool) messagePrinter {
	printer := messagePrinter{
		out:      out,
		styles:   cli.NewStyles(out),
		self:     s.client.InboxID(),
		registry: s.client.Registry(),
	}
	if markdown {
		printer.markdown = cli.NewMarkdown(out, cli.TerminalWidth(out))
	}
	return printer
}

func (p messagePrinter) print(view messageView) {
	fmt.Fprintln(p.out, p.render(view))
}

// render formats view and its reactions without a trailing newline.
func (p messagePrinter) render(view messageView) string {
	sender := p.styles.Sender.Render(view.SenderInboxID)
	if view.SenderInboxID == p.self {
		sender = p.styles.Self.Render(view.SenderInboxID)
	}
	stamp := p.styles.Timestamp.Render(time.Unix(0, view.SentAtNs).Format(time.DateTime))
	var rendered strings.Builder
	fmt.Fprintf(&rendered, "%s %s %s", stamp, sender, p.body(view))
	if view.DeliveryStatus == bridge.DeliveryUnpublished {
		rendered.WriteString(" " + p.styles.Type.Render("(unpublished)"))
	}
	for _, reaction := range view.Reactions {
		rendered.WriteString("\n" + p.styles.Reaction.Render(reaction.SenderInboxID+" "+p.body(reaction)))
	}
	return rendered.String()
}

func (p messagePrinter) body(view messageView) string {
	if view.Error != "" {
		undecoded := p.styles.Undecoded.Render(fmt.Sprintf("[%s: %s]", view.ContentType, view.Error))
		if view.Envelope != "" {
			undecoded += " " + p.styles.Type.Render(view.Envelope)
		}
		return undecoded
	}
	described := p.describe(view.Content)
	// Styling a multi-line body would pad every line to the widest.
	if strings.Contains(described, "\n") {
		return described
	}
	return p.styles.Body.Render(described)
}

// describe renders decoded content. Only markdown bodies span lines.
func (p messagePrinter) describe(content any) string {
	switch value := content.(type) {
	case string:
		if p.markdown != nil {
			return p.markdown.Render(value, bodyIndent)
		}
		return value
	case contentcodec.Reaction:
		if value.Action == contentcodec.ReactionRemoved {
			return "removed " + value.Content
		}
		return value.Content
	case contentcodec.Attachment:
		return p.styles.Type.Render(fmt.Sprintf("[attachment %s, %s, %d bytes]", value.Filename, value.MimeType, len(value.Data)))
	case contentcodec.RemoteAttachment:
		return p.styles.Type.Render(fmt.Sprintf("[remote attachment %s at %s]", value.Filename, value.URL))
	case contentcodec.ReadReceipt:
		return p.styles.Type.Render("[read]")
	case contentcodec.Reply:
		nested := "(empty)"
		if value.Content != nil {
			decoded, err := p.registry.Decode(value.Content)
			if err != nil {
				nested = p.styles.Undecoded.Render(err.Error())
			} else {
				nested = p.describe(decoded)
			}
		}
		return fmt.Sprintf("%s %s", p.styles.Type.Render("↳ "+value.Reference), nested)
	case contentcodec.GroupUpdated:
		return p.styles.Type.Render(describeGroupUpdate(value))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	}
}

func describeGroupUpdate(update contentcodec.GroupUpdated) string {
	var changes []string
	if len(update.AddedInboxes) > 0 {
		changes = append(changes, "added "+strings.Join(update.AddedInboxes, ", "))
	}
	if len(update.RemovedInboxes) > 0 {
		changes = append(changes, "removed "+strings.Join(update.RemovedInboxes, ", "))
	}
	for _, field := range update.MetadataFieldChanges {
		changes = append(changes, fmt.Sprintf("set %s to %q", field.FieldName, field.NewValue))
	}
	if len(changes) == 0 {
		changes = append(changes, "updated the group")
	}
	return fmt.Sprintf("[%s %s]", update.InitiatedByInboxID, strings.Join(changes, "; "))
}
