// Package memory implementa core.Store in-process. Para tests y desarrollo;
// la guardia de config impide usarlo en prod.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/google/uuid"
)

type Store struct {
	mu        sync.Mutex
	tokens    map[string]core.TokenState    // tenant|adapter
	links     map[string]core.ExternalLink  // org|adapter|externalID
	webhooks  map[string]core.WebhookConfig // org|adapter
	runs      map[string]core.WorkflowRun
	mutations map[string]core.PendingMutation
}

func New() *Store {
	return &Store{
		tokens:    make(map[string]core.TokenState),
		links:     make(map[string]core.ExternalLink),
		webhooks:  make(map[string]core.WebhookConfig),
		runs:      make(map[string]core.WorkflowRun),
		mutations: make(map[string]core.PendingMutation),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

func key2(a, b string) string    { return a + "|" + b }
func key3(a, b, c string) string { return a + "|" + b + "|" + c }

// ---- tokens ----

func (s *Store) GetToken(_ context.Context, tenantKey, adapter string) (*core.TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tokens[key2(tenantKey, adapter)]
	if !ok {
		return nil, fmt.Errorf("token %s/%s: %w", adapter, tenantKey, core.ErrNotFound)
	}
	out := ts
	return &out, nil
}

func (s *Store) SaveToken(_ context.Context, ts *core.TokenState) error {
	if ts.TenantKey == "" || ts.Adapter == "" {
		return core.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key2(ts.TenantKey, ts.Adapter)] = *ts
	return nil
}

// ---- links ----

func (s *Store) GetLink(_ context.Context, orgID, adapter, externalID string) (*core.ExternalLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[key3(orgID, adapter, externalID)]
	if !ok || l.DeletedAt != nil {
		return nil, fmt.Errorf("link %s/%s/%s: %w", orgID, adapter, externalID, core.ErrNotFound)
	}
	out := l
	return &out, nil
}

func (s *Store) ExistingExternalIDs(_ context.Context, orgID, adapter string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for _, l := range s.links {
		if l.OrgID == orgID && l.Adapter == adapter && l.DeletedAt == nil {
			out[l.ExternalID] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) UpsertLink(_ context.Context, l *core.ExternalLink) error {
	if l.OrgID == "" || l.Adapter == "" || l.ExternalID == "" {
		return core.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key3(l.OrgID, l.Adapter, l.ExternalID)
	now := time.Now().UTC()
	if prev, ok := s.links[k]; ok {
		prev.EntityType = l.EntityType
		if l.EntityID != "" {
			prev.EntityID = l.EntityID
		}
		prev.UpdatedAt = now
		prev.LastProcessedAt = &now
		prev.DeletedAt = nil
		s.links[k] = prev
		return nil
	}
	nl := *l
	nl.CreatedAt = now
	nl.UpdatedAt = now
	nl.LastProcessedAt = &now
	s.links[k] = nl
	return nil
}

func (s *Store) SoftDeleteLink(_ context.Context, orgID, adapter, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key3(orgID, adapter, externalID)
	l, ok := s.links[k]
	if !ok {
		return core.ErrNotFound
	}
	now := time.Now().UTC()
	l.DeletedAt = &now
	s.links[k] = l
	return nil
}

func (s *Store) ListLinks(_ context.Context, orgID, adapter string, limit int) ([]core.ExternalLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ExternalLink
	for _, l := range s.links {
		if l.OrgID == orgID && l.Adapter == adapter && l.DeletedAt == nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- webhooks ----

func (s *Store) ListEnabledWebhookConfigs(_ context.Context, adapter string) ([]core.WebhookConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.WebhookConfig
	for _, wc := range s.webhooks {
		if wc.Adapter == adapter && wc.Enabled {
			out = append(out, wc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out, nil
}

func (s *Store) UpsertWebhookConfig(_ context.Context, wc *core.WebhookConfig) error {
	if wc.OrgID == "" || wc.Adapter == "" {
		return core.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[key2(wc.OrgID, wc.Adapter)] = *wc
	return nil
}

func (s *Store) TouchWebhookReceived(_ context.Context, orgID, adapter string, at time.Time) error {
	return s.touchWebhook(orgID, adapter, func(wc *core.WebhookConfig) { wc.LastReceivedAt = &at })
}

func (s *Store) TouchWebhookProcessed(_ context.Context, orgID, adapter string, at time.Time) error {
	return s.touchWebhook(orgID, adapter, func(wc *core.WebhookConfig) { wc.LastProcessedAt = &at })
}

func (s *Store) touchWebhook(orgID, adapter string, f func(*core.WebhookConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wc, ok := s.webhooks[key2(orgID, adapter)]
	if !ok {
		return core.ErrNotFound
	}
	f(&wc)
	s.webhooks[key2(orgID, adapter)] = wc
	return nil
}

// ---- runs ----

func (s *Store) ClaimRun(_ context.Context, runKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runKey]; ok && r.Status != core.RunFailed {
		return false, nil
	}
	now := time.Now().UTC()
	s.runs[runKey] = core.WorkflowRun{RunKey: runKey, Status: core.RunRunning, StartedAt: now, UpdatedAt: now}
	return true, nil
}

func (s *Store) FinishRun(_ context.Context, runKey string, status core.RunStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runKey]
	if !ok {
		return core.ErrNotFound
	}
	r.Status = status
	r.LastError = lastError
	r.UpdatedAt = time.Now().UTC()
	s.runs[runKey] = r
	return nil
}

// ---- mutations ----

func (s *Store) EnqueueMutation(_ context.Context, m *core.PendingMutation) error {
	if m.Name == "" {
		return core.ErrInvalid
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nm := *m
	if nm.Status == "" {
		nm.Status = core.MutationPending
	}
	if nm.CreatedAt.IsZero() {
		nm.CreatedAt = time.Now().UTC()
	}
	s.mutations[m.ID] = nm
	return nil
}

func (s *Store) ClaimPendingMutations(_ context.Context, orgID, adapter string) ([]core.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.PendingMutation
	for id, m := range s.mutations {
		if m.OrgID == orgID && m.Adapter == adapter && m.Status == core.MutationPending {
			m.Status = core.MutationInFlight
			s.mutations[id] = m
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkMutationsDone(_ context.Context, ids []string) error {
	return s.setMutationStatus(ids, core.MutationDone)
}

func (s *Store) ReleaseMutations(_ context.Context, ids []string) error {
	return s.setMutationStatus(ids, core.MutationPending)
}

func (s *Store) setMutationStatus(ids []string, st core.MutationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, ok := s.mutations[id]; ok {
			m.Status = st
			s.mutations[id] = m
		}
	}
	return nil
}
