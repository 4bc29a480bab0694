package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/dropDatabas3/flocksync/internal/webhook"
	"github.com/go-chi/chi/v5"
)

// maxWebhookBody limita el body de un webhook entrante (1 MiB).
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---- webhooks ----

// handleWebhook lee el body crudo (la firma se computa sobre esos bytes) y
// delega en el dispatcher. La firma inválida es 401; el fallo de
// procesamiento es 500 para que el emisor reintente la entrega.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	adapterName := chi.URLParam(r, "adapter")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(raw) > maxWebhookBody {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	err = s.Dispatcher.Dispatch(r.Context(), adapterName, r.Header, raw)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, webhook.ErrNoMatch):
		writeError(w, http.StatusUnauthorized, "signature mismatch")
	default:
		logger.From(r.Context()).Error("webhook dispatch failed",
			logger.Adapter(adapterName), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}

// ---- admin ----

type syncRequest struct {
	OrgID  string `json:"org_id"`
	Entity string `json:"entity"` // vacío ⇒ bulk
}

// handleAdminSync dispara un bulk sync (o un pull puntual) en background y
// responde 202: los syncs largos no viven atados al request HTTP.
func (s *Server) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	adapterName := chi.URLParam(r, "adapter")

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id required")
		return
	}
	if _, err := s.Orchestrator.Registry.Get(adapterName); err != nil {
		writeError(w, http.StatusNotFound, "unknown adapter")
		return
	}

	log := logger.From(r.Context()).With(logger.Adapter(adapterName), logger.Tenant(req.OrgID))
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	go func() {
		ctx := logger.ToContext(base, log)
		var err error
		if req.Entity == "" {
			err = s.Orchestrator.BulkSync(ctx, adapterName, req.OrgID)
		} else {
			err = s.Orchestrator.Pull(ctx, adapterName, req.OrgID, req.Entity)
		}
		if err != nil {
			log.Error("sync failed", logger.Err(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleAdminPush drena el outbox de mutaciones pendientes hacia el adapter.
func (s *Server) handleAdminPush(w http.ResponseWriter, r *http.Request) {
	adapterName := chi.URLParam(r, "adapter")

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id required")
		return
	}
	if err := s.Orchestrator.Push(r.Context(), adapterName, req.OrgID); err != nil {
		logger.From(r.Context()).Error("push failed",
			logger.Adapter(adapterName), logger.Tenant(req.OrgID), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "push failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

func (s *Server) handleAdminLinks(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	adapterName := r.URL.Query().Get("adapter")
	if orgID == "" || adapterName == "" {
		writeError(w, http.StatusBadRequest, "org_id and adapter required")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	links, err := s.Store.ListLinks(r.Context(), orgID, adapterName, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links, "count": len(links)})
}

type webhookConfigRequest struct {
	OrgID              string `json:"org_id"`
	AuthenticitySecret string `json:"authenticity_secret"`
	VerificationMethod string `json:"verification_method"`
	Enabled            bool   `json:"enabled"`
}

func (s *Server) handleAdminWebhookConfig(w http.ResponseWriter, r *http.Request) {
	adapterName := chi.URLParam(r, "adapter")

	var req webhookConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.OrgID == "" || req.AuthenticitySecret == "" {
		writeError(w, http.StatusBadRequest, "org_id and authenticity_secret required")
		return
	}
	switch req.VerificationMethod {
	case "hmac-sha256", "hmac-sha1":
	default:
		writeError(w, http.StatusBadRequest, "verification_method must be hmac-sha256 or hmac-sha1")
		return
	}
	if _, err := s.Orchestrator.Registry.Get(adapterName); err != nil {
		writeError(w, http.StatusNotFound, "unknown adapter")
		return
	}

	err := s.Store.UpsertWebhookConfig(r.Context(), &core.WebhookConfig{
		OrgID:              req.OrgID,
		Adapter:            adapterName,
		AuthenticitySecret: req.AuthenticitySecret,
		VerificationMethod: req.VerificationMethod,
		Enabled:            req.Enabled,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// ---- health ----

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
