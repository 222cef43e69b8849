package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/davidroman0O/durex"
	"github.com/davidroman0O/durex/cluster"
	"github.com/davidroman0O/durex/internal/config"
	"github.com/davidroman0O/durex/metrics"
	"github.com/davidroman0O/durex/pkg/logs"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile string
	debug   bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "durex",
	Short:   "Durable workflow runner",
	Long:    `durex runs checkpointed workflows made of isolated activities and resumes them after a restart.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if debug {
			cfg.Logging.Level = "debug"
		}
		logs.SetDefault(logs.NewDefaultLogger(logs.ParseLevel(cfg.Logging.Level), logs.LogFormat(cfg.Logging.Format)))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logs")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// startEngine opens the engine described by cfg and serves metrics when enabled.
func startEngine(ctx context.Context, registry *cluster.Registry) (*durex.Engine, func(), error) {
	opts := []durex.Option{durex.WithConfig(cfg), durex.WithLogger(logs.Default())}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		m, err := metrics.New(nil)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, durex.WithMetrics(m))
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Error(ctx, "metrics server stopped", "error", err)
			}
		}()
	}

	e, err := durex.New(ctx, registry, opts...)
	if err != nil {
		return nil, nil, err
	}

	stop := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Cluster.ShutdownTimeout+time.Second)
		defer cancel()
		if err := e.Close(closeCtx); err != nil {
			logs.Warn(closeCtx, "engine close", "error", err)
		}
		if srv != nil {
			_ = srv.Shutdown(closeCtx)
		}
	}
	return e, stop, nil
}
