package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"dealerdesk.io/internal/audit"
	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/capability"
	"dealerdesk.io/internal/config"
	"dealerdesk.io/internal/events"
	"dealerdesk.io/internal/httpapi"
	"dealerdesk.io/internal/obs"
	"dealerdesk.io/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	obs.Setup(cfg.Log.Level, cfg.Log.Format)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	// One Postgres store serves all persistence interfaces; memory keeps
	// development and integration environments self-contained.
	var (
		store    authz.Store
		capStore capability.Store
		probe    httpapi.ReadyProbe
	)
	switch cfg.Database.Driver {
	case "postgres":
		pgStore, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres store")
		}
		defer pgStore.Close()
		if err := pgStore.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("ping postgres")
		}
		store = pgStore
		capStore = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		audit.SetSink(pgStore)
	default:
		store = authz.NewMemory()
		capStore = capability.NewMemory()
	}

	// The resolver reads through the catalog cache when enabled; mutation
	// events evict entries, locally and from peer instances via NATS.
	var resolveStore authz.ResolveStore = store
	var cache *authz.CachedStore
	if cfg.Cache.Enabled {
		cache, err = authz.NewCachedStore(store, cfg.Cache.TenantCatalogs)
		if err != nil {
			log.Fatal().Err(err).Msg("build catalog cache")
		}
		go cache.Watch(ctx, bus)
		resolveStore = cache
	}

	if cfg.Events.NATSURL != "" {
		conn, err := nats.Connect(cfg.Events.NATSURL, nats.Name("dealerdesk-authz"))
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.Events.NATSURL).Msg("connect to NATS")
		}
		defer conn.Drain()

		bridge := events.NewBridge(conn, cfg.Events.SubjectPrefix)
		go bridge.Run(ctx, bus)

		if cache != nil {
			if _, err := events.Listen(ctx, conn, cfg.Events.SubjectPrefix, func(evt events.Event) {
				cache.Invalidate(evt.TenantID)
			}); err != nil {
				log.Fatal().Err(err).Msg("subscribe to NATS events")
			}
		}
		log.Info().Str("url", cfg.Events.NATSURL).Msg("event bridge connected")
	}

	svc, err := authz.NewService(store, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("build authz service")
	}
	resolver, err := authz.NewResolver(resolveStore)
	if err != nil {
		log.Fatal().Err(err).Msg("build resolver")
	}
	caps, err := capability.NewService(capStore, resolver)
	if err != nil {
		log.Fatal().Err(err).Msg("build capability service")
	}

	api := httpapi.New(svc, resolver, caps, bus, probe, version)
	api.SetTokenTTL(cfg.Auth.TokenTTL)
	api.SetRateLimit(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	api.SetCORSOrigins(cfg.CORS.AllowedOrigins)

	// The event stream lifts the write deadline per connection, so the global
	// WriteTimeout only bounds regular request handlers.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("driver", cfg.Database.Driver).
			Str("version", version).
			Msg("dealerdesk authz listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}
