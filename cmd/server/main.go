package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/config"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	"github.com/kuba2k2/zuzel-sub000/internal/server"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		envFile   = flag.String("env", ".env", "optional dotenv file")
		port      = flag.Int("port", 0, "game port (overrides ZUZEL_PORT)")
		httpAddr  = flag.String("http", "", "lobby API and WebSocket address (overrides ZUZEL_HTTP_ADDR)")
		poolSize  = flag.Int("pool", -1, "public rooms to create at start (overrides ZUZEL_POOL_SIZE)")
		logLevel  = flag.String("log-level", "", "debug, info, warn or error")
		logFormat = flag.String("log-format", "", "text or json")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *poolSize >= 0 {
		cfg.PoolSize = *poolSize
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] server stopped")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := game.NewRegistry(game.Options{
		Notifier: internal.NotifierFunc(func(e internal.Event) {
			log.Debugf("[event] room=%s: %s player=%d value=%d", e.RoomKey, e.Type, e.PlayerID, e.Value)
		}),
	})
	defer registry.Shutdown()

	if err := registry.Prespawn(cfg.PoolSize, internal.RoomOptions{
		Speed:  cfg.Speed,
		Rounds: cfg.Rounds,
	}); err != nil {
		return err
	}

	srv, err := server.New(cfg, registry)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	if cfg.HTTPAddr != "" {
		httpServer := &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      srv.RegisterRoutes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			log.Printf("[main] lobby API listening on %s", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	log.Printf("[main] zuzel server up: port=%d pool=%d tls=%t", cfg.Port, cfg.PoolSize, cfg.TLSEnabled())
	return g.Wait()
}

func setupLogger(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stdout)
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
