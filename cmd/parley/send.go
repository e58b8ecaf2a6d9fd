// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/parley/cmd/parley/cli"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/contenttype"
	"github.com/bureau-foundation/parley/messaging"
)

type sendParams struct {
	cli.JSONOutput
	Conversation string `flag:"conversation" desc:"conversation ID"`
	Text         string `flag:"text" desc:"text to send"`
	ReplyTo      string `flag:"reply-to" desc:"send --text as a reply to this message ID"`
	ReactTo      string `flag:"react-to" desc:"react to this message ID with --emoji"`
	Emoji        string `flag:"emoji" desc:"reaction content"`
	Remove       bool   `flag:"remove" desc:"withdraw the --emoji reaction instead of adding it"`
	Attach       string `flag:"attach" desc:"send this file as an inline attachment"`
	Type         string `flag:"type" desc:"content type key (e.g. xmtp.org/reaction:1.0) for --content-file"`
	ContentFile  string `flag:"content-file" desc:"JSON or JSONC file holding the content for --type"`
	Compression  string `flag:"compression" desc:"none, zstd, or lz4 (default: compression.default)"`
	Prepare      bool   `flag:"prepare" desc:"stage the message locally; publish it later"`
}

// outgoing is the content and send options a sendParams describes.
type outgoing struct {
	content any
	options []messaging.SendOption
}

func (a *app) sendCommand() *cli.Command {
	var params sendParams
	return &cli.Command{
		Name:    "send",
		Summary: "Send a message to a conversation",
		Description: `Send one message. Exactly one of --text, --react-to, --attach, or
--type must say what to send. --reply-to wraps --text in a reply.

--content-file is parsed as JSONC (comments and trailing commas are
allowed) and decoded into the Go value the --type codec expects.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("send", &params) },
		Examples: []cli.Example{
			{Description: "Send text", Command: "parley send --conversation <id> --text 'gm'"},
			{Description: "React", Command: "parley send --conversation <id> --react-to <message> --emoji 👍"},
			{Description: "Stage, then publish", Command: "parley send --conversation <id> --text draft --prepare && parley publish --conversation <id>"},
			{Description: "Custom content", Command: "parley send --conversation <id> --type xmtp.org/readReceipt:1.0 --content-file receipt.jsonc"},
		},
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			return a.withSession(ctx, logger, func(s *session) error {
				conversation, err := findConversation(ctx, s, params.Conversation)
				if err != nil {
					return err
				}
				message, err := params.outgoing(s.client.Registry())
				if err != nil {
					return err
				}
				send := conversation.Send
				if params.Prepare {
					send = conversation.PrepareMessage
				}
				id, err := send(ctx, message.content, message.options...)
				if err != nil {
					return err
				}
				s.logger.Debug("message submitted", "conversation_id", conversation.ID(), "message_id", id, "prepared", params.Prepare)

				if done, err := params.EmitJSON(a.out, map[string]string{"message_id": id}); done {
					return err
				}
				fmt.Fprintln(a.out, id)
				return nil
			})
		},
	}
}

func (p *sendParams) outgoing(registry *contentcodec.Registry) (outgoing, error) {
	set := 0
	for _, given := range []bool{p.Text != "" && p.ReplyTo == "", p.ReplyTo != "", p.ReactTo != "", p.Attach != "", p.Type != ""} {
		if given {
			set++
		}
	}
	if set != 1 {
		return outgoing{}, errors.New("exactly one of --text, --reply-to, --react-to, --attach, or --type is required")
	}

	var message outgoing
	switch {
	case p.ReplyTo != "":
		if p.Text == "" {
			return outgoing{}, errors.New("--reply-to requires --text")
		}
		nested, err := registry.Encode(contenttype.Text, p.Text)
		if err != nil {
			return outgoing{}, err
		}
		message.content = contentcodec.Reply{Reference: p.ReplyTo, Content: nested}
		message.options = append(message.options, messaging.WithContentType(contenttype.Reply))

	case p.ReactTo != "":
		if p.Emoji == "" {
			return outgoing{}, errors.New("--react-to requires --emoji")
		}
		action := contentcodec.ReactionAdded
		if p.Remove {
			action = contentcodec.ReactionRemoved
		}
		message.content = contentcodec.Reaction{
			Reference: p.ReactTo,
			Action:    action,
			Content:   p.Emoji,
			Schema:    contentcodec.SchemaUnicode,
		}
		message.options = append(message.options, messaging.WithContentType(contenttype.Reaction))

	case p.Attach != "":
		data, err := os.ReadFile(p.Attach)
		if err != nil {
			return outgoing{}, fmt.Errorf("reading attachment: %w", err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(p.Attach))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		message.content = contentcodec.Attachment{Filename: filepath.Base(p.Attach), MimeType: mimeType, Data: data}
		message.options = append(message.options, messaging.WithContentType(contenttype.Attachment))

	case p.Type != "":
		id, err := contenttype.Parse(p.Type)
		if err != nil {
			return outgoing{}, err
		}
		content, err := readContentFile(p.ContentFile, id)
		if err != nil {
			return outgoing{}, err
		}
		message.content = content
		message.options = append(message.options, messaging.WithContentType(id))

	default:
		message.content = p.Text
	}

	if p.Compression != "" {
		algorithm, err := contentcodec.ParseCompression(p.Compression)
		if err != nil {
			return outgoing{}, err
		}
		// The text shorthand carries no envelope to compress.
		if _, ok := message.content.(string); ok && p.Type == "" {
			message.options = append(message.options, messaging.WithContentType(contenttype.Text))
		}
		message.options = append(message.options, messaging.WithCompression(algorithm))
	}
	return message, nil
}

// readContentFile decodes a JSONC file into the value id's built-in
// codec accepts. Unknown types decode to generic JSON values.
func readContentFile(path string, id contenttype.ID) (any, error) {
	if path == "" {
		return nil, errors.New("--type requires --content-file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading content file: %w", err)
	}
	data = jsonc.ToJSON(data)

	var target any
	switch {
	case id.SameType(contenttype.Text):
		target = new(string)
	case contenttype.IsReaction(id):
		target = new(contentcodec.Reaction)
	case id.SameType(contenttype.ReadReceipt):
		target = new(contentcodec.ReadReceipt)
	case id.SameType(contenttype.Attachment):
		target = new(contentcodec.Attachment)
	case id.SameType(contenttype.RemoteAttachment):
		target = new(contentcodec.RemoteAttachment)
	default:
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return generic, nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("parsing %s as %s: %w", path, id, err)
	}
	switch value := target.(type) {
	case *string:
		return *value, nil
	case *contentcodec.Reaction:
		return *value, nil
	case *contentcodec.ReadReceipt:
		return *value, nil
	case *contentcodec.Attachment:
		return *value, nil
	case *contentcodec.RemoteAttachment:
		return *value, nil
	}
	return target, nil
}

type publishParams struct {
	Conversation string `flag:"conversation" desc:"conversation ID"`
	Message      string `flag:"message" desc:"publish only this staged message"`
}

func (a *app) publishCommand() *cli.Command {
	var params publishParams
	return &cli.Command{
		Name:    "publish",
		Summary: "Publish messages staged with send --prepare",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("publish", &params) },
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			return a.withSession(ctx, logger, func(s *session) error {
				conversation, err := findConversation(ctx, s, params.Conversation)
				if err != nil {
					return err
				}
				if params.Message != "" {
					return conversation.PublishMessage(ctx, params.Message)
				}
				return conversation.PublishPreparedMessages(ctx)
			})
		},
	}
}
