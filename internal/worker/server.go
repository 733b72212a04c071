package worker

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/example/message-router/internal/common"
)

const serviceName = "Redis Queue Worker"

var requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "worker_requests_total",
	Help: "Worker endpoint requests by route and status code",
}, []string{"route", "code"})

type Server struct {
	drainer    *Drainer
	cronSecret string
	logger     zerolog.Logger
	now        func() time.Time
}

func NewServer(drainer *Drainer, cronSecret string, logger zerolog.Logger) *Server {
	return &Server{
		drainer:    drainer,
		cronSecret: cronSecret,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.With(s.requireCronSecret).Get("/api/cron/process-queue", s.processQueue)
	r.Post("/api/queue/worker", s.processOne)
	r.Get("/api/queue/worker", s.status)
	return r
}

// requireCronSecret rejects the request before any queue access unless it
// carries "Authorization: Bearer <secret>".
func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.cronSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("rejected cron trigger")
			s.writeJSON(w, "cron", http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) processQueue(w http.ResponseWriter, r *http.Request) {
	summary, err := s.drainer.Drain(r.Context())
	if err != nil {
		s.fail(r.Context(), w, "cron", err)
		return
	}
	s.writeJSON(w, "cron", http.StatusOK, map[string]any{
		"success":   true,
		"processed": summary.Processed,
		"remaining": summary.Remaining,
		"jobs":      summary.Jobs,
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) processOne(w http.ResponseWriter, r *http.Request) {
	res, err := s.drainer.ProcessOne(r.Context())
	if err != nil {
		s.fail(r.Context(), w, "worker", err)
		return
	}
	if res.Processed() && !res.Success() {
		msg := "job failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		s.writeJSON(w, "worker", http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   msg,
		})
		return
	}

	body := map[string]any{"success": true, "job": nil, "message": "Queue empty"}
	if res.Processed() {
		body["job"] = map[string]any{
			"id":          res.Job.ID,
			"destination": res.Job.Destination,
			"retries":     res.Job.Retries,
		}
		body["message"] = "Job processed"
	}
	s.writeJSON(w, "worker", http.StatusOK, body)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	size, err := s.drainer.Queue.Size(r.Context())
	if err != nil {
		logger := common.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("worker status failed")
		s.writeJSON(w, "status", http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  "queue unavailable",
		})
		return
	}
	s.writeJSON(w, "status", http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"queueSize": size,
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, route string, err error) {
	logger := common.WithContext(ctx, s.logger)
	logger.Error().Err(err).Str("route", route).Msg("worker handler failed")
	s.writeJSON(w, route, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "internal error",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, status int, body any) {
	requestCounter.WithLabelValues(route, http.StatusText(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
