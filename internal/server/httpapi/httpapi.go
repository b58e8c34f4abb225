// Package httpapi serves public certificate verification, health and metrics
// over plain HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/autobooknft/egi-reservations/internal/convert"
	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/model"
)

// Verifier checks certificates.
type Verifier interface {
	VerifyCertificate(ctx context.Context, id string) (model.VerificationResult, error)
}

// Pinger reports storage health. Nil means always healthy.
type Pinger func(ctx context.Context) error

// Server holds the HTTP router.
type Server struct {
	verifier Verifier
	ping     Pinger
	metrics  http.Handler
	log      *zap.Logger
	router   http.Handler
}

// New builds the router. metrics may be nil to omit /metrics.
func New(v Verifier, ping Pinger, metrics http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{verifier: v, ping: ping, metrics: metrics, log: log}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/certificates/{uuid}/verify", s.verify)
	return r
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	res, err := s.verifier.VerifyCertificate(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToAPIVerification(res))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	body := errorBody{Reason: errs.Reason(err), Message: err.Error()}
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		body.Message = "internal"
	}
	writeJSON(w, code, body)
}

func httpStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errs.Classify(err) {
	case errs.ClassValidation:
		return http.StatusBadRequest
	case errs.ClassNotFound:
		return http.StatusNotFound
	case errs.ClassConflict:
		return http.StatusConflict
	case errs.ClassUnauthorized:
		return http.StatusUnauthorized
	case errs.ClassForbidden:
		return http.StatusForbidden
	case errs.ClassRateLimited:
		return http.StatusTooManyRequests
	case errs.ClassBusy, errs.ClassDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		// metadata only, never payloads
		s.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
