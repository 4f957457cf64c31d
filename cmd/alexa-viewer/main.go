// Command alexa-viewer keeps a binder session open and raises the Alexa
// template viewer, or the navigation application, when vshl-capabilities
// asks for it.
//
//	alexa-viewer [port] [token]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"alexa-viewer/client"
	"alexa-viewer/config"
	"alexa-viewer/logging"
	"alexa-viewer/metrics"
	"alexa-viewer/middleware"
	"alexa-viewer/registry"
	"alexa-viewer/viewer"
)

const (
	lookupTimeout   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "alexa-viewer [port] [token]",
		Short: "Raise the Alexa template viewer on binder events",
		Long: `alexa-viewer connects to the local application framework binder and
subscribes to vshl-capabilities navigation and gui metadata actions.

Without a port and token the endpoint is looked up in etcd under
/alexa-viewer/bindings/<etcd-binding>.`,
		Args:          validArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				port, token, err := parseArgs(args)
				if err != nil {
					return err
				}
				v.Set("port", port)
				v.Set("token", token)
				// Explicit arguments win over any registry lookup.
				v.Set("etcd.endpoints", []string{})
			}
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.BindFlags(cmd, v)
	return cmd
}

func validArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return fmt.Errorf("expected a port and a token, got %d argument(s)", len(args))
	}
	return nil
}

func parseArgs(args []string) (int, string, error) {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid port %q: %w", args[0], err)
	}
	return port, args[1], nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Etcd.Enabled() {
		if err := resolveEndpoint(ctx, cfg); err != nil {
			return err
		}
		logger.Info("binder endpoint resolved", "binding", cfg.Etcd.Binding, "port", cfg.Port)
	}

	m := metrics.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv := m.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(logger),
		middleware.TimeOutMiddleware(cfg.CallTimeout),
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}

	c, err := client.Connect(ctx, cfg.Port, cfg.Token,
		client.WithLogger(logger),
		client.WithHost(cfg.Host),
		client.WithCallTimeout(cfg.CallTimeout),
		client.WithHeartbeat(cfg.Heartbeat),
		client.WithMetrics(m),
		client.WithMiddleware(mws...),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	vw := viewer.New(cfg.AppID, &viewer.LogShell{Logger: logger}, logger)
	vw.Register(c)
	if err := vw.Subscribe(ctx, c); err != nil {
		logger.Warn("running without every subscription", "error", err)
	}

	logger.Info("alexa-viewer running", "app_id", cfg.AppID)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// resolveEndpoint fills in the port and token from etcd.
func resolveEndpoint(ctx context.Context, cfg *config.Config) error {
	reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints)
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	ep, err := reg.Lookup(ctx, cfg.Etcd.Binding)
	if err != nil {
		return err
	}
	resolved := *cfg
	resolved.Port, resolved.Token = ep.Port, ep.Token
	resolved.Etcd = config.EtcdConfig{}
	if err := resolved.Validate(); err != nil {
		return fmt.Errorf("binding %s: %w", cfg.Etcd.Binding, err)
	}
	cfg.Port, cfg.Token = ep.Port, ep.Token
	return nil
}
