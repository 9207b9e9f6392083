// flowd runs entity workflows: an HTTP API, an MCP tool server, a cron and
// delay scheduler, and offline tooling for workflow files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares once the root has loaded config.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "flowd",
		Short:         "Workflow automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ./flowd.yaml or ~/.flowd/flowd.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.Bool("no-color", false, "disable coloured log output")
	flags.String("db-driver", "", "database driver: libsql or postgres")
	flags.String("db-url", "", "database URL")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("log.no_color", flags.Lookup("no-color"))
	_ = a.v.BindPFlag("db.driver", flags.Lookup("db-driver"))
	_ = a.v.BindPFlag("db.url", flags.Lookup("db-url"))

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newValidateCmd(a),
		newDiagramCmd(a),
		newMigrateCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads config and builds the logger. Bound flags only win over the
// config file and environment when set on the command line.
func (a *app) setup() error {
	cfg, err := loadConfig(a.v, a.configPath)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	// Logs go to stderr so the stdio MCP transport keeps stdout to itself.
	logger, err := logging.New(os.Stderr, cfg.Log.Format, level, cfg.Log.NoColor)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg, a.logger = cfg, logger
	return nil
}
