// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/parley/cmd/parley/cli"
	"github.com/bureau-foundation/parley/messaging"
)

type streamParams struct {
	cli.JSONOutput
	Conversation  string        `flag:"conversation" desc:"stream one conversation (default: all)"`
	Interval      time.Duration `flag:"interval" desc:"how often to pull from the network" default:"2s"`
	Count         int           `flag:"count" desc:"exit after this many messages (0: run until interrupted)"`
	MetricsListen string        `flag:"metrics-listen" desc:"serve Prometheus metrics on this address (default: metrics.listen)"`
	Markdown      bool          `flag:"markdown" desc:"render text bodies as markdown"`
}

func (a *app) streamCommand() *cli.Command {
	var params streamParams
	return &cli.Command{
		Name:    "stream",
		Summary: "Print messages as they arrive",
		Description: `Stream messages until interrupted.

The relay is polled every --interval. Each pull delivers new messages
to the open streams, which print them. Without --conversation, newly
discovered conversations are announced as well.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("stream", &params) },
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			if params.Interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return a.withSession(ctx, logger, func(s *session) error {
				return a.stream(ctx, s, params)
			})
		},
	}
}

func (a *app) stream(ctx context.Context, s *session, params streamParams) error {
	listen := params.MetricsListen
	if listen == "" {
		listen = s.config.Metrics.Listen
	}
	if listen != "" {
		stop, err := serveMetrics(s, listen)
		if err != nil {
			return err
		}
		defer stop()
	}

	messages := make(chan *messaging.DecodedMessage, 64)
	discovered := make(chan messaging.Conversation, 16)
	closed := make(chan error, 2)
	onMessage := func(message *messaging.DecodedMessage) {
		select {
		case messages <- message:
		case <-ctx.Done():
		}
	}
	onClose := func(err error) {
		if err != nil {
			closed <- err
		}
	}

	var pull func(context.Context) error
	if params.Conversation != "" {
		conversation, err := findConversation(ctx, s, params.Conversation)
		if err != nil {
			return err
		}
		if _, err := conversation.StreamMessages(ctx, onMessage, onClose); err != nil {
			return err
		}
		pull = conversation.Sync
	} else {
		conversations := s.client.Conversations()
		if _, err := conversations.StreamAllMessages(ctx, onMessage, onClose); err != nil {
			return err
		}
		_, err := conversations.Stream(ctx, "", func(conversation messaging.Conversation) {
			select {
			case discovered <- conversation:
			case <-ctx.Done():
			}
		}, onClose)
		if err != nil {
			return err
		}
		pull = func(ctx context.Context) error {
			_, err := conversations.SyncAll(ctx)
			return err
		}
	}

	printer := newMessagePrinter(a.out, s, params.Markdown)
	ticker := time.NewTicker(params.Interval)
	defer ticker.Stop()
	if err := pull(ctx); err != nil {
		return err
	}

	received := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			return fmt.Errorf("stream ended: %w", err)
		case <-ticker.C:
			if err := pull(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				s.logger.Warn("sync failed", "error", err)
			}
		case conversation := <-discovered:
			info := conversation.Info()
			if done, err := params.EmitJSON(a.out, info); done {
				if err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(a.out, printer.styles.Type.Render(fmt.Sprintf("joined %s %s", info.Kind, info.ID)))
		case message := <-messages:
			view := viewOf(message)
			if done, err := params.EmitJSON(a.out, view); done {
				if err != nil {
					return err
				}
			} else {
				printer.print(view)
			}
			received++
			if params.Count > 0 && received >= params.Count {
				return nil
			}
		}
	}
}

// serveMetrics exposes the session's stream metrics on listen and
// returns a function that stops the server.
func serveMetrics(s *session, listen string) (func(), error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	s.logger.Info("serving metrics", "address", listener.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}
