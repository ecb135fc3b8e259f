package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pmrp.org/internal/auth"
	"pmrp.org/internal/httpapi"
	"pmrp.org/internal/identity"
	"pmrp.org/internal/obs"
	"pmrp.org/internal/openings"
	"pmrp.org/internal/store/pg"
	"pmrp.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	dsn := os.Getenv("PMRP_PG_DSN")
	if dsn == "" {
		log.Fatal("missing PMRP_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	provider, err := identity.NewProvider(identity.Config{
		ClientID:     os.Getenv("PMRP_DISCORD_CLIENT_ID"),
		ClientSecret: os.Getenv("PMRP_DISCORD_CLIENT_SECRET"),
		RedirectURI:  os.Getenv("PMRP_DISCORD_REDIRECT_URI"),
		StateSecret:  os.Getenv("PMRP_AUTH_SECRET"),
	})
	if err != nil {
		log.Fatalf("identity provider: %v", err)
	}

	sessions := auth.NewSessions(store)
	ledger := auth.NewLedger(store, auth.WithAdminAllowlist(splitList(os.Getenv("PMRP_ADMIN_IDS"))...))
	apiKeys := auth.NewAPIKeys(store)
	hub := stream.New()
	posts := openings.NewService(store, openings.WithEventSink(hub))

	api := httpapi.New(httpapi.Config{
		Version:        version,
		FrontendURL:    envOr("PMRP_FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins: splitList(os.Getenv("PMRP_ALLOWED_ORIGINS")),
		SecureCookies:  os.Getenv("PMRP_SECURE_COOKIES") == "true",

		RateLimitPerSecond: envInt("PMRP_RATE_LIMIT_RPS", 0),
		RateLimitBurst:     envInt("PMRP_RATE_LIMIT_BURST", 0),
	}, httpapi.Deps{
		Sessions:   sessions,
		Ledger:     ledger,
		APIKeys:    apiKeys,
		Openings:   posts,
		Provider:   provider,
		Stream:     hub,
		Recorder:   store,
		Stats:      store,
		ReadyProbe: httpapi.ReadyProbe{DB: store.DB()},
	})

	// No WriteTimeout: the events endpoint holds its response open.
	srv := &http.Server{
		Addr:              envOr("PMRP_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting pmrp-auth-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
