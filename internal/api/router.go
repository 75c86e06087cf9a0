// Package api exposes an executor over HTTP: start, validate and cancel
// jobs, and read progress by polling or as a Server-Sent Events stream.
package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers the API routes and wraps them with the CORS middleware.
func NewRouter(h *Handler, allowedOrigins string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/concatenate", h.Concatenate).Methods("POST")
	api.HandleFunc("/validate", h.Validate).Methods("POST")
	api.HandleFunc("/cancel", h.Cancel).Methods("POST")
	api.HandleFunc("/progress", h.Progress).Methods("GET")
	api.HandleFunc("/events", h.Events).Methods("GET")

	return CORSMiddleware(allowedOrigins)(r)
}

// CORSMiddleware allows requests from a comma separated list of origins.
// "*" allows any origin and an empty list allows none. Requests without an
// Origin header pass through.
func CORSMiddleware(allowed string) mux.MiddlewareFunc {
	origins := map[string]struct{}{}
	for _, o := range strings.Split(allowed, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins[o] = struct{}{}
		}
	}
	_, allowAll := origins["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if _, ok := origins[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				} else {
					writeJSONError(w, "origin not allowed", http.StatusForbidden)
					return
				}
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
