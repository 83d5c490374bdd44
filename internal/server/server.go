// Package server provides HTTP server initialization and lifecycle
// management for the glance relay.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/openglance/glance/internal/broker"
	"github.com/openglance/glance/internal/capture"
	"github.com/openglance/glance/internal/config"
	"github.com/openglance/glance/internal/storage"
	"github.com/openglance/glance/web/handlers"
)

// eventSinkSetter is implemented by stores that can emit mutation
// events. The interface itself stays optional so a plain read-only
// store still serves.
type eventSinkSetter interface {
	SetEventSink(storage.EventSink)
}

// securityHeadersMiddleware adds security headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server: the profiles REST API,
// the signaling endpoint and the UI event hub. It returns the actual
// listen address (useful for port-0 tests) and the event hub.
func Start(ctx context.Context, cfg *config.Config, store storage.ProfileStore, captures *capture.Service) (string, *handlers.EventHub) {
	mux := http.NewServeMux()

	// UI event hub, fed by store mutation events.
	eventHub := handlers.NewEventHub(cfg.Security.AllowedOrigins)
	go eventHub.Run()

	if sinkStore, ok := store.(eventSinkSetter); ok {
		sinkStore.SetEventSink(storage.EventSinkFunc(func(event storage.Event) {
			eventHub.Broadcast(event)
		}))
	}

	// Signaling: one broker per server instance, no ambient globals.
	relay := broker.New()
	signalHandler := handlers.NewSignalHandler(relay, cfg.Security.AllowedOrigins)

	rateLimiter := handlers.NewRateLimiter(20.0, 40)
	apiHandlers := handlers.NewAPIHandlers(store, captures, cfg.Tracker)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/profiles", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			apiHandlers.ListProfiles(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/profiles/merge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			apiHandlers.MergeProfiles(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/profile/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.GetProfile(w, r)
		case http.MethodPut:
			apiHandlers.UpdateProfile(w, r)
		case http.MethodDelete:
			apiHandlers.DeleteProfile(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/profile/{id}/move", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			apiHandlers.MoveImage(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/profile/{id}/split", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			apiHandlers.SplitProfile(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/image", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			apiHandlers.PostImage(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/recording", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.GetRecording(w, r)
		case http.MethodPost:
			apiHandlers.PostRecording(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/tracker/params", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			apiHandlers.GetTrackerParams(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Health endpoint — no auth required, used by monitoring.
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Wrap API routes with auth middleware.
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Websocket endpoints (no bearer auth — origin validation applies).
	mux.Handle("/ws/signal", signalHandler)
	mux.Handle("/ws/events", eventHub)

	// Wrap the whole server with rate limiting, then security headers.
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		eventHub.Stop()
	}()

	return actualAddr, eventHub
}
