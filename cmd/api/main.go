package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lutefd/telemetry-api/internal/config"
	"github.com/lutefd/telemetry-api/internal/events"
	httpserver "github.com/lutefd/telemetry-api/internal/http"
	"github.com/lutefd/telemetry-api/internal/logger"
	"github.com/lutefd/telemetry-api/internal/metrics"
	"github.com/lutefd/telemetry-api/internal/projections"
	"github.com/lutefd/telemetry-api/internal/query"
	"github.com/lutefd/telemetry-api/internal/storage/postgres"
	"github.com/lutefd/telemetry-api/internal/stream"
	"github.com/lutefd/telemetry-api/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	root := &cobra.Command{
		Use:           "api",
		Short:         "In-memory metrics aggregation API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(v))
	return root
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Duration("retention", metrics.DefaultRetention, "how long samples are kept in memory")
	flags.String("archive-dsn", "", "postgres DSN for minute rollups; empty disables archiving")
	_ = v.BindPFlag("http.addr", flags.Lookup("addr"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("engine.retention", flags.Lookup("retention"))
	_ = v.BindPFlag("archive.dsn", flags.Lookup("archive-dsn"))
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Flush(log)

	clk := clock.RealClock{}
	tel := telemetry.New()

	store, err := metrics.NewStore(metrics.Options{
		Retention:     cfg.Engine.Retention,
		SweepInterval: cfg.Engine.SweepInterval,
		Clock:         clk,
		Observer:      tel,
		Logger:        log.Named("store"),
	})
	if err != nil {
		return err
	}
	svc := query.NewService(store, metrics.NewResolver(clk, cfg.Engine.RealtimeSpan),
		query.WithLogger(log.Named("query")),
		query.WithInstrumentation(tel),
	)

	bus := events.NewBus()
	hub := stream.NewHub(bus, log.Named("stream"), cfg.Stream.AllowedOrigins...)
	publisher := stream.NewPublisher(svc, bus, clk, cfg.Stream.Interval, log.Named("stream"))
	if err := registerGauges(tel, store, hub); err != nil {
		return err
	}

	deps := httpserver.Dependencies{
		Query:     svc,
		Recorder:  store,
		Stream:    hub,
		Telemetry: tel.Handler(),
		APIToken:  cfg.Auth.Token,
		Logger:    log.Named("http"),
	}

	var projector *projections.Service
	if cfg.Archive.Enabled() {
		archive, err := postgres.NewStore(ctx, cfg.Archive.DSN)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer archive.Close()
		projector = projections.NewService(store, archive,
			projections.WithClock(clk),
			projections.WithInterval(cfg.Archive.Interval),
			projections.WithBus(bus),
			projections.WithLogger(log.Named("projections")),
		)
		deps.History = archive
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpserver.NewServer(deps).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", cfg.HTTP.Addr), zap.Bool("archive", projector != nil))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return store.Run(gctx) })
	g.Go(func() error { return publisher.Run(gctx) })
	if projector != nil {
		g.Go(func() error { return projector.Run(gctx) })
	}

	err = g.Wait()
	log.Info("api stopped", zap.Error(err))
	return err
}

func registerGauges(tel *telemetry.Collector, store *metrics.Store, hub *stream.Hub) error {
	for _, kind := range []metrics.Kind{metrics.KindRequest, metrics.KindDatastore, metrics.KindBandwidth} {
		if err := tel.GaugeFunc("retained_"+kind.String()+"_samples", "Samples currently held in memory.", func() float64 {
			return float64(store.Len(kind))
		}); err != nil {
			return err
		}
	}
	if err := tel.GaugeFunc("stream_clients", "Connected websocket stream clients.", func() float64 {
		return float64(hub.Clients())
	}); err != nil {
		return err
	}
	return tel.GaugeFunc("stream_dropped_frames", "Snapshots dropped for slow stream clients.", func() float64 {
		return float64(hub.Dropped())
	})
}
