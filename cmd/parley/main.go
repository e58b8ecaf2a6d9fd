// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/parley/cmd/parley/cli"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{out: stdout}
	globals := pflag.NewFlagSet("parley", pflag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(io.Discard)
	globals.StringVar(&app.configPath, "config", "", "config file (default: $PARLEY_CONFIG)")
	globals.StringVar(&app.inbox, "as", "", "inbox to act as (default: the only profile)")
	if err := globals.Parse(args); err != nil {
		return fmt.Errorf("%w\n\nRun 'parley --help' for usage.", err)
	}

	level := slog.LevelInfo
	if cfg, err := app.loadConfig(); err == nil {
		level = cfg.LogLevel()
	}
	logger := cli.NewCommandLogger(level)
	return app.root().Execute(ctx, globals.Args(), logger)
}
