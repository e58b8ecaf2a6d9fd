// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/parley/engine"
	"github.com/bureau-foundation/parley/lib/config"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/messaging"
	"github.com/bureau-foundation/parley/streaming"
)

// app holds global flag values and the lazily loaded config.
type app struct {
	configPath string
	inbox      string
	out        io.Writer

	config *config.Config
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.config != nil {
		return a.config, nil
	}
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a.config = cfg
	return cfg, nil
}

// session is an open engine and, once connected, a client acting as
// one inbox.
type session struct {
	config   *config.Config
	network  *engine.Network
	engine   *engine.Engine
	streams  *streaming.Manager
	registry *prometheus.Registry
	client   *messaging.Client
	profile  profile
	logger   *slog.Logger
}

// open opens the relay and the engine without loading an installation.
func (a *app) open(logger *slog.Logger) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	network, err := engine.OpenNetwork(engine.NetworkConfig{Path: cfg.Paths.Network, Logger: logger})
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Config{
		Network:    network,
		DataDir:    cfg.Paths.Data,
		WorkFactor: cfg.Client.KeyWorkFactor,
		Logger:     logger,
	})
	if err != nil {
		network.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := streaming.NewMetrics(registry)
	if err != nil {
		eng.Close()
		network.Close()
		return nil, err
	}
	streams, err := streaming.NewManager(streaming.Config{Bridge: eng, Metrics: metrics, Logger: logger})
	if err != nil {
		eng.Close()
		network.Close()
		return nil, err
	}
	return &session{
		config:   cfg,
		network:  network,
		engine:   eng,
		streams:  streams,
		registry: registry,
		logger:   logger,
	}, nil
}

// connect opens the engine and builds a client for the selected
// profile.
func (a *app) connect(ctx context.Context, logger *slog.Logger) (*session, error) {
	s, err := a.open(logger)
	if err != nil {
		return nil, err
	}
	selected, err := selectProfile(s.config.Paths.Data, a.inbox)
	if err != nil {
		s.Close()
		return nil, err
	}
	clientConfig, err := s.clientConfig()
	if err != nil {
		s.Close()
		return nil, err
	}
	client, err := messaging.Build(ctx, clientConfig, selected.InstallationID, selected.DatabaseKey)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading inbox %s: %w", selected.InboxID, err)
	}
	s.client = client
	s.profile = selected
	s.logger = logger.With("inbox_id", selected.InboxID)
	return s, nil
}

func (s *session) clientConfig() (messaging.ClientConfig, error) {
	compression, err := contentcodec.ParseCompression(s.config.Compression.Default)
	if err != nil {
		return messaging.ClientConfig{}, err
	}
	return messaging.ClientConfig{
		Bridge:             s.engine,
		Streams:            s.streams,
		Compression:        compression,
		ExclusiveStreams:   s.config.Client.ExclusiveStreams,
		TrustNativeContent: s.config.Client.TrustNativeContent,
		Logger:             s.logger,
	}, nil
}

// Close releases the client, the engine, and the relay in that order.
func (s *session) Close() error {
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Close(context.Background()))
	}
	s.streams.Close()
	errs = append(errs, s.engine.Close(), s.network.Close())
	return errors.Join(errs...)
}
