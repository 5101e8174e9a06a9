package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appSync "github.com/housie-live/housie-live/internal/application/sync"
	"github.com/housie-live/housie-live/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	manager *appSync.Manager
	sseHub  *sse.Hub
	logger  zerolog.Logger
}

func NewServer(manager *appSync.Manager, sseHub *sse.Hub, logger zerolog.Logger) *Server {
	return &Server{
		manager: manager,
		sseHub:  sseHub,
		logger:  logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", s.evaluate)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.openSession)
			r.Route("/{sessionId}", func(r chi.Router) {
				r.Delete("/", s.closeSession)
				r.Get("/ledger", s.getLedger)
				r.Post("/calls", s.callItem)
				r.Post("/reset", s.resetSession)

				r.Route("/claims", func(r chi.Router) {
					r.Post("/", s.raiseClaim)
					r.Get("/", s.listClaims)
					r.Post("/{claimId}/resolve", s.resolveClaim)
					r.Post("/{claimId}/ack", s.acknowledgeClaim)
				})

				r.Get("/stream", s.stream)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
