package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/config"
	"gatekit.org/internal/federation"
	"gatekit.org/internal/httpapi"
	"gatekit.org/internal/keys"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/pipeline"
	"gatekit.org/internal/store/pg"
	"gatekit.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	kp, err := keys.Ensure(cfg.KeyPath, cfg.KeyName)
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}

	var (
		tokenStore token.Store
		users      authz.UserStore
		graph      authz.GraphStore
		configs    federation.ConfigStore
		probe      httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		tokenStore = store.Tokens()
		users = store.Users()
		graph = store.Graph()
		configs = store.Providers()
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// Dev mode: volatile directory with one seeded admin account.
		dir := authz.NewMemoryDirectory()
		password := cfg.AdminPassword
		if password == "" {
			password = uuid.NewString()
			log.Printf("WARNING: generated dev admin password: %s", password)
		}
		hash, err := pipeline.HashPassword(password)
		if err != nil {
			log.Fatalf("hash admin password: %v", err)
		}
		if err := dir.SeedAdmin(context.Background(), hash); err != nil {
			log.Fatalf("seed admin: %v", err)
		}
		log.Printf("WARNING: no GATEKIT_PG_DSN set, using in-memory stores")
		tokenStore = token.NewMemoryStore()
		users = dir
		graph = dir
	}

	tokens, err := token.NewService(kp, tokenStore, token.Identity{
		Issuer:   cfg.Issuer,
		Subject:  cfg.Subject,
		Audience: cfg.Audience,
	}, token.WithDefaultTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	engine, err := authz.NewEngine(users, graph)
	if err != nil {
		log.Fatalf("permission engine: %v", err)
	}
	pipe, err := pipeline.New(tokens, users, authz.Requirement{})
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	opts := []httpapi.Option{
		httpapi.WithSecureCookies(cfg.SecureCookies),
		httpapi.WithTokenTTL(cfg.TokenTTL),
	}
	if configs != nil {
		bridge, err := federation.NewBridge(configs, federation.NewGoogleVerifier(),
			users, engine, tokens, federation.DirectRegistrar{Users: users}, cfg.TokenTTL)
		if err != nil {
			log.Fatalf("federation: %v", err)
		}
		opts = append(opts, httpapi.WithFederation(bridge))
	}

	api := httpapi.New(probe, version, pipe, tokens, engine, opts...)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go token.NewSweeper(tokens, cfg.SweepInterval).Run(sweepCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatekit-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
