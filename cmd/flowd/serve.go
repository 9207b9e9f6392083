package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghxstship/orangeseadragon-sub009/internal/httpapi"
	"github.com/ghxstship/orangeseadragon-sub009/internal/scheduler"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the MCP SSE endpoint and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	_ = a.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	svc, err := a.openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	api := httpapi.New(httpapi.Deps{
		Runner:    svc.interp,
		Store:     svc.store,
		Actions:   svc.actions,
		Approvals: svc.store.Approvals(),
		Hub:       svc.hub,
		Health:    svc.store,
		Logger:    a.logger,
		Version:   version,
	})

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	if a.cfg.MCP.Enabled {
		agents := mcp.NewServer(mcp.ServerDeps{
			Runner:  svc.interp,
			Store:   svc.store,
			Actions: svc.actions,
			Hub:     svc.hub,
			Logger:  a.logger,
			Version: version,
		})
		base := strings.TrimSuffix(a.cfg.MCP.BasePath, "/")
		mux.Handle(base+"/", agents.HTTPHandler(base))
		go agents.ForwardEvents(ctx)
		a.logger.Info("mcp endpoint mounted", "path", base)
	}

	if a.cfg.Scheduler.Enabled {
		sched, err := scheduler.New(svc.interp, scheduler.Config{
			Interval: a.cfg.Scheduler.Interval,
			Workers:  a.cfg.Scheduler.Workers,
			Triggers: a.cfg.Scheduler.Triggers,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "address", srv.Addr, "version", version)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
