package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/playbookhq/readiness-engine/internal/api"
	"github.com/playbookhq/readiness-engine/internal/config"
	"github.com/playbookhq/readiness-engine/internal/events"
	"github.com/playbookhq/readiness-engine/internal/httpapi"
	"github.com/playbookhq/readiness-engine/internal/metrics"
	"github.com/playbookhq/readiness-engine/internal/scheduler"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "readiness-engine",
		Short:         "Organizational readiness engine",
		Long:          "Detects weak signals, correlates them into oracle patterns, extracts playbook learnings and scores organizational readiness.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	root.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
		newCycleCommand(&configPath),
		newScoreCommand(&configPath),
		newStatusCommand(&configPath),
	)
	return root
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC, HTTP and metrics servers plus background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", slog.Any("error", err))
		}
	}()

	grpcServer, err := api.NewServer(cfg.Server, api.NewHandlers(a.service), logger)
	if err != nil {
		return fmt.Errorf("create grpc server: %w", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           httpapi.NewRouter(a.service, a.store, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("grpc server listening", slog.String("address", grpcServer.Address()))
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("http server listening", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if cfg.Server.MetricsAddress != "" {
		go func() {
			logger.Info("metrics server listening", slog.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var subscriber *events.Subscriber
	if cfg.NATS.Enabled {
		conn, err := events.Connect(cfg.NATS.URL, "readiness-engine", logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		subscriber = events.NewSubscriber(conn, events.SubscriberConfig{
			ExecutionsSubject: cfg.NATS.ExecutionsSubject,
			RecomputeSubject:  cfg.NATS.RecomputeSubject,
			QueueGroup:        cfg.NATS.QueueGroup,
		}, a.extractor, a.scorer, logger)
		if err := subscriber.Start(); err != nil {
			conn.Close()
			return fmt.Errorf("start nats subscriber: %w", err)
		}
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(a.pipeline, scheduler.Config{
			Interval:      cfg.Scheduler.Interval,
			Organizations: cfg.Scheduler.Organizations,
			Concurrency:   cfg.Scheduler.Concurrency,
		}, logger)
		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Error("scheduler stopped", slog.Any("error", err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grpcServer.GracefulTimeout())
	defer cancel()

	if subscriber != nil {
		if err := subscriber.Stop(); err != nil {
			logger.Warn("nats drain", slog.Any("error", err))
		}
	}
	grpcServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", slog.Any("error", err))
	}
	logger.Info("readiness engine stopped")
	return runErr
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			cfg.Storage.Migrate = true
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("schema applied", slog.String("driver", cfg.Storage.Driver))
			return a.Close()
		},
	}
}

func newCycleCommand(configPath *string) *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one detection and scoring cycle for an organization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, runErr := a.service.RunCycle(cmd.Context(), orgID)
			if report.OrganizationID != "" {
				if err := printJSON(cmd, api.CycleSummary(report)); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newScoreCommand(configPath *string) *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute and store a readiness measurement for an organization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			metric, err := a.service.CalculateReadiness(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			return printJSON(cmd, metric)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	var (
		orgID  string
		remote string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the system status of an organization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remote != "" {
				return remoteStatus(cmd, remote, orgID)
			}
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.service.GetSystemStatus(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&remote, "remote", "", "query a running engine at this gRPC address instead of the local store")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func remoteStatus(cmd *cobra.Command, target, orgID string) error {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	resp, err := api.NewClient(conn).Call(ctx, api.MethodGetSystemStatus, map[string]any{"organization_id": orgID})
	if err != nil {
		return err
	}
	return printJSON(cmd, resp.AsMap())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
