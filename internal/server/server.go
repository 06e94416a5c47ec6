// Package server assembles the HTTP surface: health, metrics, and the
// websocket endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nightcourt/mafiad/internal/platform/metrics"
	"github.com/nightcourt/mafiad/internal/types"
	"github.com/nightcourt/mafiad/internal/ws"
)

type Server struct {
	http *http.Server
	log  *zap.Logger
}

func New(addr string, wsHandler *ws.Handler, met *metrics.Metrics, log *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{}))
	r.Handle("/ws", wsHandler)

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *Server) ListenAndServe() error {
	s.log.Info("listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":          "ok",
		"timestamp":       time.Now().UnixMilli(),
		"protocolVersion": types.ProtocolVersion,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
