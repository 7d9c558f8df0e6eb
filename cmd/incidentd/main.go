// Command incidentd runs the incident manager: the HTTP API, the
// resumption worker pool and the stale sweep. Its other subcommands talk
// to a running daemon over the API.
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
)

type app struct {
	v          *viper.Viper
	configPath string
	cfg        *Config
	logger     *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "incidentd",
		Short:         "Durable incident diagnosis and remediation workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			slog.SetDefault(logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./config.yaml or /etc/incidentd/config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("server", "http://localhost:8080", "API base URL for client commands")
	pf.String("token", "", "API bearer token")
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("server.url", pf.Lookup("server"))
	_ = a.v.BindPFlag("server.token", pf.Lookup("token"))

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newIncidentCmd(a),
		newApproveCmd(a),
		newWatchCmd(a),
		newJobsCmd(a),
	)
	return root
}
