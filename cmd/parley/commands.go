// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/cmd/parley/cli"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/version"
	"github.com/bureau-foundation/parley/messaging"
)

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name: "parley",
		Description: `Parley: end-to-end encrypted group and direct messaging.

Acts as one local inbox against the reference engine. Global flags
(--config, --as) go before the command.`,
		Subcommands: []*cli.Command{
			a.initCommand(),
			a.conversationsCommand(),
			a.groupCommand(),
			a.dmCommand(),
			a.sendCommand(),
			a.publishCommand(),
			a.messagesCommand(),
			a.consentCommand(),
			a.streamCommand(),
			a.chatCommand(),
			a.codecsCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Fprintf(a.out, "parley %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Create an inbox on this machine", Command: "parley init --inbox alice"},
			{Description: "Start a group", Command: "parley --as alice group create --member bob --name planning"},
			{Description: "Say hello", Command: "parley --as alice send --conversation <id> --text 'hello, world'"},
			{Description: "Read a conversation with reactions", Command: "parley --as bob messages --conversation <id> --reactions"},
		},
	}
}

// withSession runs fn against a connected session and closes it.
func (a *app) withSession(ctx context.Context, logger *slog.Logger, fn func(*session) error) (err error) {
	s, err := a.connect(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

// findConversation looks id up locally, syncing the conversation list
// once if it is unknown.
func findConversation(ctx context.Context, s *session, id string) (messaging.Conversation, error) {
	if id == "" {
		return nil, errors.New("--conversation is required")
	}
	conversations := s.client.Conversations()
	conversation, err := conversations.Find(ctx, id)
	if bridge.IsError(err, bridge.ErrorConversationNotFound) {
		if err := conversations.Sync(ctx); err != nil {
			return nil, err
		}
		conversation, err = conversations.Find(ctx, id)
	}
	return conversation, err
}

type initParams struct {
	cli.JSONOutput
	Inbox   string `flag:"inbox" desc:"inbox ID to create (required)"`
	KeyFile string `flag:"key-file" desc:"read the database key from this file (- for stdin) instead of generating one"`
}

func (a *app) initCommand() *cli.Command {
	var params initParams
	return &cli.Command{
		Name:    "init",
		Summary: "Create an inbox installation and its profile",
		Description: `Create a new installation for an inbox on this machine.

A random database key is generated, or read from --key-file, and stored
with the installation ID in a profile under paths.data/profiles. Key
files holding an even-length hex string are hex-decoded. Running init again for the same
inbox on another data directory creates a second installation of it.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("init", &params) },
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			if params.Inbox == "" {
				return errors.New("--inbox is required")
			}
			s, err := a.open(logger)
			if err != nil {
				return err
			}
			defer s.Close()
			dataDir := s.config.Paths.Data
			if _, err := loadProfile(dataDir, params.Inbox); err == nil {
				return fmt.Errorf("inbox %s already has a profile", params.Inbox)
			}

			key, err := databaseKey(params.KeyFile)
			if err != nil {
				return err
			}
			clientConfig, err := s.clientConfig()
			if err != nil {
				return err
			}
			client, err := messaging.Create(ctx, clientConfig, messaging.CreateOptions{
				InboxID:     params.Inbox,
				DatabaseKey: key,
			})
			if err != nil {
				return err
			}
			s.client = client
			created := profile{InboxID: client.InboxID(), InstallationID: client.InstallationID(), DatabaseKey: key}
			if err := saveProfile(dataDir, created); err != nil {
				return err
			}
			logger.Info("inbox created", "inbox_id", created.InboxID, "installation_id", created.InstallationID)

			result := map[string]string{"inbox_id": created.InboxID, "installation_id": created.InstallationID}
			if done, err := params.EmitJSON(a.out, result); done {
				return err
			}
			fmt.Fprintf(a.out, "created inbox %s (installation %s)\n", created.InboxID, created.InstallationID)
			return nil
		},
	}
}

// databaseKey reads the key from path, or generates one when path is
// empty.
func databaseKey(path string) ([]byte, error) {
	if path == "" {
		return newDatabaseKey()
	}
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading --key-file: %w", err)
	}
	defer buffer.Close()
	return bytes.Clone(buffer.Bytes()), nil
}

func (a *app) codecsCommand() *cli.Command {
	var params struct{ cli.JSONOutput }
	return &cli.Command{
		Name:    "codecs",
		Summary: "List the content types this client can decode",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("codecs", &params) },
		Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
			types := contentcodec.NewDefaultRegistry().ContentTypes()
			if done, err := params.EmitJSON(a.out, types); done {
				return err
			}
			for _, id := range types {
				fmt.Fprintln(a.out, id.Key())
			}
			return nil
		},
	}
}
