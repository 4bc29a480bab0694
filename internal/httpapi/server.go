// Package httpapi expone la superficie HTTP del servicio: recepción de
// webhooks, endpoints de administración y observabilidad.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/dropDatabas3/flocksync/internal/webhook"
	"github.com/dropDatabas3/flocksync/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server arma el router y corre el http.Server.
type Server struct {
	Addr         string
	Dispatcher   *webhook.Dispatcher
	Orchestrator *workflow.Orchestrator
	Store        core.Store
	AdminSecret  string

	// baseCtx es el contexto de vida del proceso: los syncs disparados en
	// background cuelgan de él, no del request que los pidió.
	baseCtx context.Context

	srv *http.Server
}

// Router arma el chi.Mux con middlewares y rutas.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(withLogging)
	r.Use(withRecover)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/webhooks/{adapter}", s.handleWebhook)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(requireAdmin(s.AdminSecret))
		r.Post("/sync/{adapter}", s.handleAdminSync)
		r.Post("/push/{adapter}", s.handleAdminPush)
		r.Get("/links", s.handleAdminLinks)
		r.Put("/webhooks/{adapter}", s.handleAdminWebhookConfig)
	})

	return r
}

// Start bloquea sirviendo HTTP hasta que ctx se cancele; después drena con
// un shutdown con gracia.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", logger.String("addr", s.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
