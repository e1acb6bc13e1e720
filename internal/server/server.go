// Package server provides HTTP server initialization and lifecycle management
// for the rollcall resolution API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/rollcall/internal/config"
	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/web/handlers"
)

// Options carries the components the server exposes.
type Options struct {
	Resolver *engine.IdentityResolver
	// Rosters may be nil; resolve requests must then carry their roster.
	Rosters handlers.RosterSource
	Version string
	Logger  *slog.Logger
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// NewHandler builds the full HTTP handler: API routes behind auth, the review
// event websocket and the health endpoint. A zero RateLimitRPS disables rate
// limiting.
func NewHandler(cfg *config.Config, api *handlers.APIHandlers, hub *handlers.ReviewHub, logger *slog.Logger) http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		api.Resolve(w, r)
	})
	apiMux.HandleFunc("/api/resolve/batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		api.ResolveBatch(w, r)
	})
	apiMux.HandleFunc("/api/confirm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		api.Confirm(w, r)
	})
	apiMux.HandleFunc("/api/reject", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		api.Reject(w, r)
	})
	apiMux.HandleFunc("/api/pending", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		api.ListPending(w, r)
	})
	apiMux.HandleFunc("/api/pending/expire", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		api.ExpirePending(w, r)
	})
	apiMux.HandleFunc("/api/mappings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			api.ListMappings(w, r)
		case http.MethodDelete:
			api.DeleteMapping(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	apiMux.HandleFunc("/api/mappings/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		api.History(w, r)
	})

	mux := http.NewServeMux()

	// Health endpoint; no auth required, used by monitoring.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		api.Health(w, r)
	})

	mux.Handle("/api/", handlers.RequestLogger(handlers.RequireAuth(apiMux, cfg), logger))

	// No auth on the websocket; origin validation guards browsers.
	mux.Handle("/ws", hub)

	var handler http.Handler = mux
	if cfg.Server.RateLimitRPS > 0 {
		rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		handler = handlers.RateLimitMiddleware(handler, rateLimiter)
	}
	return securityHeadersMiddleware(handler)
}

// allowedOrigins lists the hosts browsers may open the websocket from.
func allowedOrigins(cfg *config.Config) []string {
	port := strconv.Itoa(cfg.Server.Port)
	origins := []string{
		net.JoinHostPort("localhost", port),
		net.JoinHostPort("127.0.0.1", port),
	}
	if h := cfg.Server.Host; h != "" && h != "localhost" && h != "127.0.0.1" && h != "0.0.0.0" {
		origins = append(origins, net.JoinHostPort(h, port))
	}
	return origins
}

// Start initializes and starts the HTTP server. It returns the actual address
// being listened on (useful for testing with port 0) and the ReviewHub fed by
// the resolver's review events. The server shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, opts Options) (string, *handlers.ReviewHub, error) {
	if opts.Resolver == nil {
		return "", nil, errors.New("server: resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := handlers.NewReviewHub(allowedOrigins(cfg), logger)
	go hub.Run()
	opts.Resolver.SetOnReviewEvent(hub.Publish)

	api := handlers.NewAPIHandlers(opts.Resolver, opts.Rosters, opts.Version, logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg, api, hub, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", nil, fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()
	logger.Info("http server listening", "addr", actualAddr)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", "error", err)
		}
		opts.Resolver.SetOnReviewEvent(nil)
		hub.Stop()
	}()

	return actualAddr, hub, nil
}
