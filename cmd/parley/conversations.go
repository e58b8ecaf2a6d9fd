// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/cmd/parley/cli"
	"github.com/bureau-foundation/parley/messaging"
)

func parseConsentStates(values []string) ([]bridge.ConsentState, error) {
	states := make([]bridge.ConsentState, 0, len(values))
	for _, value := range values {
		state := bridge.ConsentState(value)
		if !state.Valid() {
			return nil, fmt.Errorf("unknown consent state %q (want unknown, allowed, or denied)", value)
		}
		states = append(states, state)
	}
	return states, nil
}

type listConversationsParams struct {
	cli.JSONOutput
	Kind    string   `flag:"kind" desc:"group or dm (default: both)"`
	Consent []string `flag:"consent" desc:"only conversations in these consent states"`
	Limit   int      `flag:"limit" desc:"maximum conversations to list"`
	Sync    bool     `flag:"sync" desc:"discover new conversations first" default:"true"`
}

type syncParams struct {
	Consent []string `flag:"consent" desc:"only sync conversations in these consent states"`
}

func (a *app) conversationsCommand() *cli.Command {
	var listParams listConversationsParams
	var syncFlags syncParams
	return &cli.Command{
		Name:    "conversations",
		Summary: "List and sync conversations",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "List local conversations, newest first",
				Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("list", &listParams) },
				Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
					kind := bridge.ConversationKind(listParams.Kind)
					if kind != "" && kind != bridge.ConversationGroup && kind != bridge.ConversationDm {
						return fmt.Errorf("--kind must be %s or %s", bridge.ConversationGroup, bridge.ConversationDm)
					}
					states, err := parseConsentStates(listParams.Consent)
					if err != nil {
						return err
					}
					return a.withSession(ctx, logger, func(s *session) error {
						if listParams.Sync {
							if err := s.client.Conversations().Sync(ctx); err != nil {
								return err
							}
						}
						conversations, err := s.client.Conversations().List(ctx, messaging.ListOptions{
							Kind:          kind,
							ConsentStates: states,
							Limit:         listParams.Limit,
						})
						if err != nil {
							return err
						}
						infos := make([]bridge.ConversationInfo, len(conversations))
						for i, conversation := range conversations {
							infos[i] = conversation.Info()
						}
						if done, err := listParams.EmitJSON(a.out, infos); done {
							return err
						}
						writer := tabwriter.NewWriter(a.out, 2, 0, 3, ' ', 0)
						fmt.Fprintln(writer, "ID\tKIND\tNAME\tCONSENT\tCREATED")
						for _, info := range infos {
							name := info.Name
							if info.Kind == bridge.ConversationDm {
								name = "@" + info.PeerInboxID
							}
							fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.Kind, name, info.ConsentState,
								time.Unix(0, info.CreatedAtNs).Format(time.DateTime))
						}
						return writer.Flush()
					})
				},
			},
			{
				Name:    "sync",
				Summary: "Discover conversations and pull their messages",
				Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("sync", &syncFlags) },
				Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
					states, err := parseConsentStates(syncFlags.Consent)
					if err != nil {
						return err
					}
					return a.withSession(ctx, logger, func(s *session) error {
						synced, err := s.client.Conversations().SyncAll(ctx, states...)
						if err != nil {
							return err
						}
						fmt.Fprintf(a.out, "synced %d conversations\n", synced)
						return nil
					})
				},
			},
		},
	}
}

type groupCreateParams struct {
	cli.JSONOutput
	Members     []string `flag:"member" desc:"inbox ID to add (repeatable)"`
	Name        string   `flag:"name" desc:"group name"`
	Description string   `flag:"description" desc:"group description"`
}

type groupUpdateParams struct {
	Conversation string   `flag:"conversation" desc:"group ID"`
	Name         string   `flag:"name" desc:"new group name"`
	Description  string   `flag:"description" desc:"new group description"`
	Add          []string `flag:"add" desc:"inbox ID to add (repeatable)"`
	Remove       []string `flag:"remove" desc:"inbox ID to remove (repeatable)"`
}

type groupMembersParams struct {
	cli.JSONOutput
	Conversation string `flag:"conversation" desc:"group ID"`
}

func (a *app) groupCommand() *cli.Command {
	var createParams groupCreateParams
	var updateParams groupUpdateParams
	var membersParams groupMembersParams
	return &cli.Command{
		Name:    "group",
		Summary: "Create and manage groups",
		Subcommands: []*cli.Command{
			{
				Name:    "create",
				Summary: "Create a group with the given members",
				Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("create", &createParams) },
				Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
					return a.withSession(ctx, logger, func(s *session) error {
						group, err := s.client.Conversations().NewGroup(ctx, createParams.Members, messaging.GroupOptions{
							Name:        createParams.Name,
							Description: createParams.Description,
						})
						if err != nil {
							return err
						}
						if done, err := createParams.EmitJSON(a.out, group.Info()); done {
							return err
						}
						fmt.Fprintln(a.out, group.ID())
						return nil
					})
				},
			},
			{
				Name:    "update",
				Summary: "Change a group's metadata or membership",
				Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("update", &updateParams) },
				Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
					return a.withSession(ctx, logger, func(s *session) error {
						group, err := findGroup(ctx, s, updateParams.Conversation)
						if err != nil {
							return err
						}
						if updateParams.Name != "" {
							if err := group.UpdateName(ctx, updateParams.Name); err != nil {
								return err
							}
						}
						if updateParams.Description != "" {
							if err := group.UpdateDescription(ctx, updateParams.Description); err != nil {
								return err
							}
						}
						if len(updateParams.Add) > 0 {
							if err := group.AddMembers(ctx, updateParams.Add...); err != nil {
								return err
							}
						}
						if len(updateParams.Remove) > 0 {
							if err := group.RemoveMembers(ctx, updateParams.Remove...); err != nil {
								return err
							}
						}
						return nil
					})
				},
			},
			{
				Name:    "members",
				Summary: "List a group's members",
				Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("members", &membersParams) },
				Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
					return a.withSession(ctx, logger, func(s *session) error {
						group, err := findGroup(ctx, s, membersParams.Conversation)
						if err != nil {
							return err
						}
						members, err := group.Members(ctx)
						if err != nil {
							return err
						}
						if done, err := membersParams.EmitJSON(a.out, members); done {
							return err
						}
						writer := tabwriter.NewWriter(a.out, 2, 0, 3, ' ', 0)
						fmt.Fprintln(writer, "INBOX\tPERMISSION\tINSTALLATIONS\tCONSENT")
						for _, member := range members {
							fmt.Fprintf(writer, "%s\t%s\t%d\t%s\n", member.InboxID, member.PermissionLevel,
								len(member.InstallationIDs), member.ConsentState)
						}
						return writer.Flush()
					})
				},
			},
		},
	}
}

func findGroup(ctx context.Context, s *session, id string) (*messaging.Group, error) {
	conversation, err := findConversation(ctx, s, id)
	if err != nil {
		return nil, err
	}
	group, ok := conversation.(*messaging.Group)
	if !ok {
		return nil, fmt.Errorf("conversation %s is not a group", id)
	}
	return group, nil
}

type dmParams struct {
	cli.JSONOutput
	Peer string `flag:"peer" desc:"inbox ID of the other participant"`
}

func (a *app) dmCommand() *cli.Command {
	var params dmParams
	return &cli.Command{
		Name:    "dm",
		Summary: "Find or create the DM with an inbox",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("dm", &params) },
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			if params.Peer == "" {
				return errors.New("--peer is required")
			}
			return a.withSession(ctx, logger, func(s *session) error {
				dm, err := s.client.Conversations().FindOrCreateDm(ctx, params.Peer)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(a.out, dm.Info()); done {
					return err
				}
				fmt.Fprintln(a.out, dm.ID())
				return nil
			})
		},
	}
}

type consentParams struct {
	Conversation string `flag:"conversation" desc:"conversation ID"`
	Inbox        string `flag:"inbox" desc:"inbox ID"`
	State        string `flag:"state" desc:"allowed or denied (omit to print the current state)"`
}

func (a *app) consentCommand() *cli.Command {
	var params consentParams
	return &cli.Command{
		Name:    "consent",
		Summary: "Show or set consent for a conversation or inbox",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("consent", &params) },
		Examples: []cli.Example{
			{Description: "Hide a conversation", Command: "parley consent --conversation <id> --state denied"},
			{Description: "Check an inbox", Command: "parley consent --inbox spammer"},
		},
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			if (params.Conversation == "") == (params.Inbox == "") {
				return errors.New("exactly one of --conversation or --inbox is required")
			}
			return a.withSession(ctx, logger, func(s *session) error {
				preferences := s.client.Preferences()
				if params.Inbox != "" {
					if params.State == "" {
						state, err := preferences.InboxConsentState(ctx, params.Inbox)
						if err != nil {
							return err
						}
						fmt.Fprintln(a.out, state)
						return nil
					}
					state := bridge.ConsentState(params.State)
					if state != bridge.ConsentAllowed && state != bridge.ConsentDenied {
						return fmt.Errorf("%w: got %q", messaging.ErrInvalidConsentState, params.State)
					}
					return preferences.SetConsent(ctx, bridge.ConsentRecord{
						EntityType: bridge.ConsentEntityInbox,
						Entity:     params.Inbox,
						State:      state,
					})
				}

				conversation, err := findConversation(ctx, s, params.Conversation)
				if err != nil {
					return err
				}
				if params.State == "" {
					state, err := conversation.ConsentState(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(a.out, state)
					return nil
				}
				return conversation.UpdateConsent(ctx, bridge.ConsentState(params.State))
			})
		},
	}
}
