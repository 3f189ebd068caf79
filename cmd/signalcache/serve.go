package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/signalcache/internal/cache"
	"github.com/sawpanic/signalcache/internal/config"
	"github.com/sawpanic/signalcache/internal/dispatch"
	httpiface "github.com/sawpanic/signalcache/internal/interfaces/http"
	"github.com/sawpanic/signalcache/internal/metrics"
	"github.com/sawpanic/signalcache/internal/models"
	"github.com/sawpanic/signalcache/internal/mutate"
	"github.com/sawpanic/signalcache/internal/persistence"
	"github.com/sawpanic/signalcache/internal/refresh"
	"github.com/sawpanic/signalcache/internal/stream"
	"github.com/sawpanic/signalcache/internal/transport"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache engine and its observability endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/signalcache.yaml", "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	prom := prometheus.NewRegistry()
	reg := metrics.NewRegistry(prom)

	var storeOpts []cache.Option
	var mirror *cache.DetailMirror
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		mirror = cache.NewDetailMirror(rdb, cfg.RedisTTL())
		storeOpts = append(storeOpts, cache.WithDetailMirror(mirror))
	}
	store := cache.NewStore(storeOpts...)
	if mirror != nil {
		if _, err := mirror.Warm(ctx, store); err != nil {
			log.Warn().Err(err).Msg("Detail mirror warm failed, starting cold")
		}
	}

	var journal *persistence.Journal
	var sink stream.EventSink
	if cfg.Journal.DSN != "" {
		j, err := persistence.Open(cfg.Journal.DSN)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
		sink = j
	}

	dispatcher := dispatch.NewDispatcher(store, reg)
	subscriber := stream.NewWebSocketSubscriber(stream.WebSocketConfig{
		URL:          cfg.Feed.URL,
		AuthToken:    cfg.Feed.AuthToken,
		PingInterval: cfg.PingInterval(),
		ReadTimeout:  cfg.ReadTimeout(),
	})
	manager := stream.NewManager(stream.ManagerConfig{
		Subscriber: subscriber,
		Dispatcher: dispatcher,
		Sink:       sink,
		Backoff:    stream.BackoffPolicy{Base: cfg.BackoffBase(), Max: cfg.BackoffMax()},
		Metrics:    reg,
	})

	client := transport.NewClient(transport.Config{
		BaseURL:         cfg.API.BaseURL,
		AuthToken:       cfg.API.AuthToken,
		UserAgent:       cfg.API.UserAgent,
		Timeout:         cfg.APITimeout(),
		RPS:             float64(cfg.API.RPS),
		Burst:           cfg.API.Burst,
		BreakerFailures: uint32(cfg.API.BreakerFailures),
		BreakerCooldown: cfg.BreakerCooldown(),
	})

	engine := mutate.NewEngine(store, client, reg)

	queries := make([]models.ListQuery, 0, len(cfg.Feed.Scopes))
	refreshKeys := []cache.Key{cache.AggregateKey()}
	for _, scope := range cfg.Feed.Scopes {
		q := models.ListQuery{Market: scope, SortBy: "score", SortDesc: true, Page: 1, PageSize: 50}
		queries = append(queries, q)
		refreshKeys = append(refreshKeys, cache.ListKey(q.Fingerprint()))
	}

	refetch := func(ctx context.Context) error {
		for _, q := range queries {
			lr, err := client.FetchList(ctx, q)
			if err != nil {
				return err
			}
			store.SetList(q.Fingerprint(), lr)
		}
		agg, err := client.FetchAggregate(ctx)
		if err != nil {
			return err
		}
		store.SetAggregate(agg)
		reg.SetCacheSizes(len(store.ListFingerprints()), 0)
		return nil
	}

	coordinator := refresh.New(store, refresh.Config{
		Threshold:  cfg.Refresh.Threshold,
		Resistance: cfg.Refresh.Resistance,
		Keys:       refreshKeys,
		Do:         refetch,
	}, reg)

	// Initial pages before the live feed opens.
	if err := refetch(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial fetch failed, relying on live events and refresh")
	}
	for _, scope := range cfg.Feed.Scopes {
		manager.Acquire(ctx, scope)
	}
	defer func() {
		for _, scope := range cfg.Feed.Scopes {
			manager.Release(scope)
		}
	}()

	server := httpiface.NewServer(httpiface.Config{
		Store:   store,
		Manager: manager,
		Engine:  engine,
		Journal: journal,
		Prom:    prom,
	})
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Observability endpoints listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Periodic refresh keeps long-running deployments from serving
	// stale-but-never-refetched pages.
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			coordinator.Refresh(ctx)
		case err := <-errCh:
			return err
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	}
}
