package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xtrntr/marketplace/internal/api"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/db"
	"github.com/xtrntr/marketplace/internal/feed"
	"github.com/xtrntr/marketplace/internal/kv"
	"github.com/xtrntr/marketplace/internal/marketplace"
	"github.com/xtrntr/marketplace/internal/metrics"
)

// ServeCmd runs the HTTP server
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the marketplace HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

// backend is the storage a server runs on, plus how to release it
type backend struct {
	store        marketplace.Store
	participants auth.Participants
	close        func()
}

func openBackend(ctx context.Context) (*backend, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		database, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close(ctx)
			return nil, err
		}
		return &backend{store: database, participants: database, close: func() { database.Close(context.Background()) }}, nil
	case "pebble":
		store, err := kv.Open(cfg.Storage.PebbleDir)
		if err != nil {
			return nil, err
		}
		logger.Warn().Msg("participants are kept in memory with the pebble driver and are lost on restart")
		return &backend{store: store, participants: auth.NewMemoryParticipants(), close: func() { store.Close() }}, nil
	default:
		logger.Warn().Msg("using the in-memory store, nothing survives a restart")
		return &backend{store: marketplace.NewMemoryStore(), participants: auth.NewMemoryParticipants(), close: func() {}}, nil
	}
}

func serve(ctx context.Context) error {
	schedule, err := cfg.Market.Schedule()
	if err != nil {
		return err
	}

	be, err := openBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer be.close()

	mt := metrics.NopMetrics()
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if mt, err = metrics.PrometheusMetrics(registry, cfg.Metrics.Namespace); err != nil {
			return err
		}
	}

	var market *marketplace.Marketplace
	hub := feed.NewHub(logger.With().Str("module", "feed").Logger(), func() feed.Event {
		pos := market.Position()
		return feed.Event{Type: feed.PeriodTick, IntervalID: pos.IntervalID, Position: &pos, At: time.Now()}
	})
	defer hub.Close()

	publishers := feed.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := feed.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publishers = append(publishers, kp)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing events to kafka")
	}

	market, err = marketplace.New(schedule, be.store,
		marketplace.WithLogger(logger.With().Str("module", "marketplace").Logger()),
		marketplace.WithMetrics(mt),
		marketplace.WithPublisher(publishers),
		marketplace.WithDefaultGasLimit(cfg.Market.DefaultGasLimit),
	)
	if err != nil {
		return err
	}

	authService := auth.NewAuthService(be.participants, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(market, authService, logger.With().Str("module", "api").Logger())

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", api.GasLimitHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	handler.Routes(r)
	r.Handle("/ws", hub)
	if registry != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Start periodic period broadcast
	go func() {
		ticker := time.NewTicker(cfg.Server.BroadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				pos := market.Position()
				ev := feed.Event{Type: feed.PeriodTick, IntervalID: pos.IntervalID, Position: &pos, At: now}
				if err := hub.Publish(ctx, ev); err != nil {
					logger.Debug().Err(err).Msg("failed to broadcast period")
				}
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("storage", cfg.Storage.Driver).
			Str("period", market.Position().Period.String()).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
