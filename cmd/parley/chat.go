// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/parley/cmd/parley/cli"
	"github.com/bureau-foundation/parley/messaging"
)

type chatParams struct {
	Conversation string        `flag:"conversation" desc:"conversation ID"`
	History      int           `flag:"history" desc:"messages to load before streaming" default:"50"`
	Interval     time.Duration `flag:"interval" desc:"how often to pull from the network" default:"2s"`
	Markdown     bool          `flag:"markdown" desc:"render text bodies as markdown" default:"true"`
}

func (a *app) chatCommand() *cli.Command {
	var params chatParams
	return &cli.Command{
		Name:    "chat",
		Summary: "Open an interactive view of one conversation",
		Description: `Show a conversation full-screen and send what you type.

Enter sends the input line as text. PgUp and PgDn scroll the history.
Esc or Ctrl+C quits.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("chat", &params) },
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			if params.Interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return a.withSession(ctx, logger, func(s *session) error {
				return a.chat(ctx, s, params)
			})
		},
	}
}

func (a *app) chat(ctx context.Context, s *session, params chatParams) error {
	conversation, err := findConversation(ctx, s, params.Conversation)
	if err != nil {
		return err
	}
	if err := conversation.Sync(ctx); err != nil {
		return err
	}
	history, err := conversation.Messages(ctx, messaging.MessageQuery{Limit: params.History})
	if err != nil {
		return err
	}
	slices.Reverse(history)

	model := newChatModel(chatTitle(conversation), newMessagePrinter(a.out, s, params.Markdown), params.Interval)
	for _, message := range history {
		model.add(viewOf(message))
	}
	model.send = func(text string) tea.Cmd {
		return func() tea.Msg {
			_, err := conversation.Send(ctx, text)
			return sentMsg{err: err}
		}
	}
	model.pull = func() tea.Msg {
		return pulledMsg{err: conversation.Sync(ctx)}
	}

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(a.out))
	subscription, err := conversation.StreamMessages(ctx, func(message *messaging.DecodedMessage) {
		program.Send(receivedMsg{view: viewOf(message)})
	}, func(err error) {
		if err != nil {
			program.Send(sentMsg{err: fmt.Errorf("stream ended: %w", err)})
		}
	})
	if err != nil {
		return err
	}
	defer subscription.Cancel()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func chatTitle(conversation messaging.Conversation) string {
	switch typed := conversation.(type) {
	case *messaging.Dm:
		return "@" + typed.PeerInboxID()
	case *messaging.Group:
		if name := typed.Name(); name != "" {
			return name
		}
	}
	return conversation.ID()
}

// chatKeys are the chat view's bindings.
type chatKeys struct {
	Send     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

var defaultChatKeys = chatKeys{
	Send:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "scroll up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdn", "scroll down")),
	Quit:     key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
}

type (
	receivedMsg struct{ view messageView }
	sentMsg     struct{ err error }
	pulledMsg   struct{ err error }
	pullTickMsg struct{}
)

// chatModel is the bubbletea model behind parley chat. Messages are
// shown oldest first and deduplicated by ID, since a sent message can
// arrive both from history and from the stream.
type chatModel struct {
	title    string
	printer  messagePrinter
	keys     chatKeys
	interval time.Duration

	// send returns the command that sends text. pull syncs the
	// conversation.
	send func(text string) tea.Cmd
	pull tea.Cmd

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	seen     map[string]bool
	status   string
	ready    bool
}

func newChatModel(title string, printer messagePrinter, interval time.Duration) *chatModel {
	input := textinput.New()
	input.Placeholder = "message"
	input.Prompt = "> "
	input.Focus()
	return &chatModel{
		title:    title,
		printer:  printer,
		keys:     defaultChatKeys,
		interval: interval,
		input:    input,
		seen:     make(map[string]bool),
	}
}

func (m *chatModel) add(view messageView) bool {
	if m.seen[view.ID] {
		return false
	}
	m.seen[view.ID] = true
	m.lines = append(m.lines, m.printer.render(view))
	return true
}

func (m *chatModel) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *chatModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pullTickMsg{} })
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.tick())
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// Title, input, and status take one line each.
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 1)
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.send == nil {
				return m, nil
			}
			m.input.Reset()
			m.status = "sending"
			return m, m.send(text)
		case key.Matches(msg, m.keys.PageUp):
			m.viewport.LineUp(max(m.viewport.Height/2, 1))
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.viewport.LineDown(max(m.viewport.Height/2, 1))
			return m, nil
		}

	case receivedMsg:
		if m.add(msg.view) {
			m.refresh()
		}
		return m, nil

	case sentMsg:
		m.status = ""
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, nil

	case pullTickMsg:
		if m.pull == nil {
			return m, m.tick()
		}
		return m, m.pull

	case pulledMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) View() string {
	if !m.ready {
		return "loading…"
	}
	title := m.printer.styles.Sender.Render(m.title)
	status := m.printer.styles.Undecoded.Render(m.status)
	return title + "\n" + m.viewport.View() + "\n" + m.input.View() + "\n" + status
}
