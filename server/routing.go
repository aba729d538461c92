package server

import (
	"net/http"
	"strings"
)

// Handler returns the API routes wrapped in CORS handling.
// Everything except /health requires a token when auth is enabled.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/pulse", s.HandlePulse)

	mux.HandleFunc("POST /api/jobs", s.HandleCreateJob)
	mux.HandleFunc("GET /api/jobs", s.HandleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.HandleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.HandleCancelJob)
	mux.HandleFunc("GET /api/jobs/{id}/output", s.HandleJobOutput)

	mux.HandleFunc("GET /api/models", s.HandleListModels)
	mux.HandleFunc("POST /api/models", s.HandleCreateModel)

	mux.HandleFunc("GET /ws/jobs", s.HandleJobsWebSocket)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.HandleHealth)
	root.Handle("/", s.auth.RequireAuth(mux))

	return s.corsMiddleware(root)
}

// corsMiddleware adds CORS headers for configured origins and answers preflights
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed uses prefix matching so any port of an allowed host passes
func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// checkOrigin validates websocket origins. Requests without an Origin
// header come from non-browser clients and are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.originAllowed(origin)
}
