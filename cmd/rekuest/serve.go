// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/arkitektio/rekuest-go/pkg/actors"
	"github.com/arkitektio/rekuest-go/pkg/agent"
	"github.com/arkitektio/rekuest-go/pkg/config"
	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/observability"
	"github.com/arkitektio/rekuest-go/pkg/serialization"
	"github.com/arkitektio/rekuest-go/pkg/state"
	"github.com/arkitektio/rekuest-go/pkg/structures"
	"github.com/arkitektio/rekuest-go/pkg/transport"
)

// ServeCmd connects to the server and hosts a small example implementation
// set: a function, a generator, and a state-backed acquisition demo.
type ServeCmd struct {
	Url   string `help:"Server websocket URL (overrides config)."`
	Token string `help:"Auth token (overrides config)."`
}

// Dashboard is the example replicated state.
type Dashboard struct {
	Progress int      `json:"progress"`
	Status   string   `json:"status"`
	Captures []string `json:"captures"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := c.loadConfig(cli)
	if err != nil {
		return err
	}

	structRegistry := structures.NewRegistry()
	serializer := serialization.New(structRegistry)
	builder := definition.NewBuilder(structRegistry)
	registry := actors.NewRegistry(builder)

	dashboard, err := state.New(ctx, "dashboard", Dashboard{Status: "idle"}, structRegistry)
	if err != nil {
		return fmt.Errorf("dashboard state: %w", err)
	}

	if err := registerExamples(registry); err != nil {
		return fmt.Errorf("example implementations: %w", err)
	}

	var metrics *observability.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	a, err := agent.New(agent.Config{
		InstanceID: cfg.InstanceID,
		Dialer: &transport.WebsocketDialer{
			URL:   cfg.Url,
			Token: cfg.Token,
		},
		Registry:           registry,
		Serializer:         serializer,
		States:             map[string]*state.State{"dashboard": dashboard},
		Metrics:            metrics,
		PublishInterval:    cfg.PublishInterval,
		OutboundQueueBytes: cfg.OutboundQueueBytes,
		ReplayBufferSize:   cfg.ReplayBufferSize,
		ReplayTTL:          cfg.ReplayTTL,
		GracePeriod:        cfg.GracePeriod,
		BackoffInitial:     cfg.Backoff.Initial,
		BackoffMax:         cfg.Backoff.Max,
	})
	if err != nil {
		return err
	}

	slog.Info("connecting", "url", cfg.Url, "instance", cfg.InstanceID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx) })
	if cfg.Metrics.Enabled {
		debug := observability.NewDebugServer(cfg.Metrics.Addr, promRegistry, slog.Default())
		g.Go(func() error { return debug.Run(gctx) })
	}
	return g.Wait()
}

func (c *ServeCmd) loadConfig(cli *CLI) (*config.Config, error) {
	loader := config.NewLoader(config.LoaderOptions{Path: cli.Config})
	cfg, err := loader.Load()
	if err != nil {
		// Flags alone may be enough to run without a config file.
		if cli.Config == "" && (c.Url != "") {
			cfg = &config.Config{Url: c.Url, Token: c.Token, InstanceID: "default"}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}
	if c.Url != "" {
		cfg.Url = c.Url
	}
	if c.Token != "" {
		cfg.Token = c.Token
	}
	return cfg, cfg.Validate()
}

func registerExamples(registry *actors.Registry) error {
	type sumArgs struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	if err := registry.Register("calculate_sum", func(ctx context.Context, a sumArgs) (int, error) {
		return a.A + a.B, nil
	}, definition.WithName("Calculate Sum"), definition.WithDescription("Adds two numbers.")); err != nil {
		return err
	}

	type seriesArgs struct {
		Count int `json:"count"`
	}
	if err := registry.Register("generate_series", func(ctx context.Context, a seriesArgs) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			for i := 0; i < a.Count; i++ {
				if ctx.Err() != nil {
					return
				}
				if !yield(i, nil) {
					return
				}
			}
		}
	}, definition.WithName("Generate Series"), definition.WithDescription("Streams the integers below count.")); err != nil {
		return err
	}

	type acquireArgs struct {
		Frames    int           `json:"frames"`
		Dashboard *state.Handle `rekuest:"state=dashboard"`
	}
	return registry.Register("run_acquisition", func(ctx context.Context, a acquireArgs) (int, error) {
		helper, _ := actors.FromContext(ctx)
		if err := a.Dashboard.Set("/status", "acquiring"); err != nil {
			return 0, err
		}
		for i := 0; i < a.Frames; i++ {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
			if err := a.Dashboard.List("/captures").Append(fmt.Sprintf("frame-%d", i)); err != nil {
				return i, err
			}
			if err := a.Dashboard.Set("/progress", (i+1)*100/a.Frames); err != nil {
				return i, err
			}
			if helper != nil {
				if err := helper.Progress(ctx, (i+1)*100/a.Frames); err != nil {
					return i, err
				}
			}
		}
		if err := a.Dashboard.Set("/status", "idle"); err != nil {
			return a.Frames, err
		}
		return a.Frames, nil
	}, definition.WithName("Run Acquisition"), definition.WithDescription("Captures frames and mirrors progress into the dashboard state."))
}
