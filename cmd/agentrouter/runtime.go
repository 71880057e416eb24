package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentrouter/internal/agent"
	"agentrouter/internal/config"
	"agentrouter/internal/llm"
	"agentrouter/internal/messaging/inproc"
	"agentrouter/internal/messaging/natsbus"
	"agentrouter/internal/orchestrator"
	"agentrouter/internal/policy"
	"agentrouter/internal/registry"
	"agentrouter/internal/store"
	"agentrouter/internal/store/memory"
)

// runtime is everything a command needs to execute runs.
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	completer llm.Completer
	registry  *registry.Registry
	store     store.RunStore
	bus       *inproc.Bus
	runner    *orchestrator.Runner
	closers   []func() error
}

func loadCatalog(cfg config.Config) (agent.Catalog, error) {
	if cfg.Orchestrator.CatalogPath == "" {
		return agent.DefaultCatalog(cfg.Orchestrator.UseSpecialists()), nil
	}
	return agent.LoadCatalog(cfg.Orchestrator.CatalogPath)
}

// newRuntime wires the runner from cfg. completer overrides the configured
// model provider when non-nil.
func newRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger, completer llm.Completer) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	if completer == nil {
		c, err := llm.New(cfg.Provider(), logger)
		if err != nil {
			return nil, fmt.Errorf("create model client: %w", err)
		}
		completer = c
	}
	rt.completer = completer

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	agents, err := catalog.Build(completer)
	if err != nil {
		return nil, fmt.Errorf("build agents: %w", err)
	}
	if rt.registry, err = registry.New(agents...); err != nil {
		return nil, err
	}

	if rt.store, err = store.Open(ctx, cfg.Orchestrator.Store, cfg.Orchestrator.StorePath(),
		memory.WithMaxRuns(cfg.Orchestrator.MemoryMaxRuns)); err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Orchestrator.Store, err)
	}
	rt.closers = append(rt.closers, rt.store.Close)

	rt.bus = inproc.New(cfg.Orchestrator.EventBuffer)
	sinks := []orchestrator.EventSink{rt.bus}
	if cfg.NATS.URL != "" {
		pub, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pub)
		rt.closers = append(rt.closers, pub.Close)
	}

	selector, err := policy.New(cfg.Orchestrator.Selection)
	if err != nil {
		return nil, err
	}

	rt.runner = orchestrator.New(
		rt.registry,
		orchestrator.NewAnalyzer(completer, nil),
		orchestrator.NewSynthesizer(completer),
		rt.store,
		orchestrator.Config{
			AgentTimeout:   cfg.Orchestrator.AgentTimeout(),
			MaxConcurrency: cfg.Orchestrator.MaxConcurrency,
			Selector:       selector,
			RetainRuns:     cfg.Orchestrator.RetainRuns,
		},
		logger,
		sinks...,
	)
	ok = true
	return rt, nil
}

// watchCatalog keeps the registry in line with the catalog file until ctx is
// done.
func (rt *runtime) watchCatalog(ctx context.Context) {
	path := rt.cfg.Orchestrator.CatalogPath
	if path == "" || !rt.cfg.Orchestrator.WatchCatalog {
		return
	}
	go func() {
		err := agent.WatchCatalog(ctx, path, func(c agent.Catalog) {
			agents, err := c.Build(rt.completer)
			if err != nil {
				rt.logger.Warn("catalog reload rejected", "path", path, "error", err)
				return
			}
			added, replaced, removed := rt.registry.Sync(agents)
			rt.logger.Info("catalog reloaded", "path", path, "added", added, "replaced", replaced, "removed", removed)
		}, rt.logger)
		if err != nil {
			rt.logger.Error("catalog watch stopped", "path", path, "error", err)
		}
	}()
}

func (rt *runtime) Close() error {
	if rt.runner != nil {
		rt.runner.Wait()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
