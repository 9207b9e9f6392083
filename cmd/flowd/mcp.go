package main

import (
	"github.com/spf13/cobra"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long: "Serve the MCP tools over stdin/stdout for a locally launched agent. " +
			"Delay waits are not swept in this mode; run serve for that.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			agents := mcp.NewServer(mcp.ServerDeps{
				Runner:  svc.interp,
				Store:   svc.store,
				Actions: svc.actions,
				Hub:     svc.hub,
				Logger:  a.logger,
				Version: version,
			})
			a.logger.Info("mcp stdio server starting")
			return agents.Serve(ctx)
		},
	}
}
