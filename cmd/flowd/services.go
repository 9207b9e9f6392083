package main

import (
	"context"
	"fmt"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
)

// services is the wired engine shared by serve and mcp.
type services struct {
	store   *store.SQLStore
	actions *actions.Registry
	hub     *streaming.MemoryHub
	interp  *engine.Interpreter
}

// openStore connects and migrates the configured database.
func (a *app) openStore(ctx context.Context) (*store.SQLStore, error) {
	if err := a.cfg.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(a.cfg.DB.Driver, a.cfg.DB.URL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (a *app) openServices(ctx context.Context) (*services, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("expression engines: %w", err)
	}
	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.Dependencies{
		Entities:      st.Entities(),
		Notifications: st.Notifications(),
		Approvals:     st.Approvals(),
		Engines:       engines,
		HTTP: actions.HTTPConfig{
			Timeout:       a.cfg.Actions.HTTPTimeout,
			ResponseLimit: a.cfg.Actions.HTTPResponseLimit,
		},
	}); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register actions: %w", err)
	}

	cfg := engine.Config{
		StepTimeout: a.cfg.Engine.StepTimeout,
		CircuitBreaker: &engine.CircuitBreakerConfig{
			FailureThreshold: a.cfg.Engine.FailureThreshold,
			Cooldown:         a.cfg.Engine.Cooldown,
		},
	}
	hub := streaming.NewMemoryHub()
	interp, err := engine.New(engine.Deps{
		Store:    st,
		Actions:  reg,
		Entities: st.Entities(),
		Hub:      hub,
		Logger:   a.logger,
	}, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a.logger.Info("engine ready", "db_driver", st.Driver(), "actions", reg.Count())
	return &services{store: st, actions: reg, hub: hub, interp: interp}, nil
}

func (s *services) Close() error { return s.store.Close() }
