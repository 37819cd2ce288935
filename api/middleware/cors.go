package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var devOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// CORS applies the browser origin policy; no configured origins means the local
// dev servers only.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = devOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader, requestIDHeader},
		// Clients need these to correlate, detect replays and back off.
		ExposedHeaders:   []string{requestIDHeader, replayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
