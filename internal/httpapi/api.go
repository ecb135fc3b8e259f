package httpapi

import (
	"net/http"

	"pmrp.org/internal/audit"
	"pmrp.org/internal/auth"
	"pmrp.org/internal/identity"
	"pmrp.org/internal/obs"
	"pmrp.org/internal/openings"
	"pmrp.org/internal/stream"
)

// Config carries the boundary settings the handlers need.
type Config struct {
	Version string
	// FrontendURL is where the browser lands after the OAuth callback.
	FrontendURL string
	// AllowedOrigins may use the session cookie cross-origin.
	AllowedOrigins []string
	// SecureCookies marks the session cookie Secure; off for local dev.
	SecureCookies bool
	// RateLimitPerSecond and RateLimitBurst tune the per-IP token bucket.
	RateLimitPerSecond int
	RateLimitBurst     int
	// MaxBodyBytes caps request bodies; zero means the 1 MiB default.
	MaxBodyBytes int64
}

// API is the HTTP layer over the auth and opening services.
type API struct {
	mux        *http.ServeMux
	cfg        Config
	sessions   *auth.Sessions
	ledger     *auth.Ledger
	apiKeys    *auth.APIKeys
	openings   *openings.Service
	provider   *identity.Provider
	stream     *stream.Stream
	recorder   audit.Recorder
	stats      audit.StatsProvider
	readyProbe ReadyProbe
}

// Deps bundles the services the API serves.
type Deps struct {
	Sessions   *auth.Sessions
	Ledger     *auth.Ledger
	APIKeys    *auth.APIKeys
	Openings   *openings.Service
	Provider   *identity.Provider
	Stream     *stream.Stream
	Recorder   audit.Recorder
	Stats      audit.StatsProvider
	ReadyProbe ReadyProbe
}

func New(cfg Config, deps Deps) *API {
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:        http.NewServeMux(),
		cfg:        cfg,
		sessions:   deps.Sessions,
		ledger:     deps.Ledger,
		apiKeys:    deps.APIKeys,
		openings:   deps.Openings,
		provider:   deps.Provider,
		stream:     deps.Stream,
		recorder:   deps.Recorder,
		stats:      deps.Stats,
		readyProbe: deps.ReadyProbe,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/discord", a.handleDiscordLogin)
	a.mux.HandleFunc("/api/auth/discord/callback", a.handleDiscordCallback)
	a.mux.HandleFunc("/api/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/api/me", a.handleMe)
	a.mux.HandleFunc("/api/pages/access", a.handlePageAccess)

	a.mux.HandleFunc("/api/openings", a.handleOpenings)
	a.mux.HandleFunc("/api/openings/", a.handleOpeningScoped)

	a.mux.HandleFunc("/api/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/api/admin/permissions", a.handleAdminPermissions)
	a.mux.HandleFunc("/api/admin/api-keys", a.handleAdminAPIKeys)
	a.mux.HandleFunc("/api/admin/stats", a.handleAdminStats)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler composes the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.recordAudit(h)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = RateLimit(h, a.cfg.RateLimitBurst, a.cfg.RateLimitPerSecond)
	h = CORS(h, a.cfg.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
