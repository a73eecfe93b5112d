// Package api отдаёт контроллер коллекций по HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fffoivos/Amazon-lists/agent"
)

const RequestIDHeader = "X-Request-ID"

// Automator - часть agent.Controller, которой пользуется сервер.
type Automator interface {
	Session() agent.Session
	RequestCollections(ctx context.Context) agent.Result
	AddToCollection(ctx context.Context, id string) agent.Result
	CreateCollection(ctx context.Context, name string) agent.Result
}

type createRequest struct {
	Name string `json:"name"`
}

type Server struct {
	auto   Automator
	log    *zap.Logger
	router *mux.Router
}

// New собирает роутер. Если gather nil, /metrics не отдаётся.
func New(a Automator, gather prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{auto: a, log: log, router: mux.NewRouter()}

	s.router.Use(s.requestID)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	s.router.HandleFunc("/collections/refresh", s.handleRefresh).Methods(http.MethodPost)
	s.router.HandleFunc("/collections", s.handleCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/collections/{id}/items", s.handleAdd).Methods(http.MethodPost)
	if gather != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gather, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe работает до отмены ctx, затем мягко останавливается.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.auto.Session())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, "refresh", s.auto.RequestCollections(r.Context()))
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	s.writeResult(w, "add", s.auto.AddToCollection(r.Context(), id))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, agent.Result{Error: "bad_request"})
		return
	}
	s.writeResult(w, "create", s.auto.CreateCollection(r.Context(), req.Name))
}

func (s *Server) writeResult(w http.ResponseWriter, op string, res agent.Result) {
	if !res.Success {
		s.log.Info("operation failed",
			zap.String("op", op),
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
			zap.String("reason", res.Error),
			zap.Int("attempts", res.Attempts))
	}
	writeJSON(w, status(res), res)
}

func status(res agent.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Error == agent.ReasonNotOnTargetPage, res.Error == agent.ReasonNavigation:
		return http.StatusConflict
	case res.Error == agent.ReasonCanceled:
		return http.StatusServiceUnavailable
	case res.Error == agent.ReasonInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
