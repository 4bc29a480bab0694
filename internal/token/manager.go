// Package token mantiene válido el credential OAuth de cada tenant frente a
// cada adapter, bajo acceso concurrente.
//
// Dos locks acotan la máquina de estados por entrada:
//
//   - load lock: singleflight por key; una sola carga inicial desde storage
//     por tenant no visto, todos los callers concurrentes esperan ese
//     resultado.
//   - refresh lock: mutex por tenant+adapter; a lo sumo un refresh en vuelo
//     por key, con re-chequeo de expiry bajo el lock (double-checked) para
//     no refrescar de más. El lock es por tenant, no global: la serialización
//     global del refresh no compraba correctitud y el presupuesto upstream
//     ya lo impone el rate limiter que gatea la llamada.
package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/metrics"
	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/ratelimit"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"golang.org/x/sync/singleflight"
)

// skew: margen antes del expiry real en el que ya refrescamos.
const skew = 60 * time.Second

type entry struct {
	mu    sync.Mutex // refresh lock de esta key
	state atomic.Pointer[core.TokenState]
}

type Manager struct {
	store    core.TokenRepository
	limiter  *ratelimit.Limiter
	registry *adapter.Registry

	mu      sync.Mutex
	entries map[string]*entry
	loads   singleflight.Group

	// now inyectable para tests
	now func() time.Time
}

func NewManager(store core.TokenRepository, limiter *ratelimit.Limiter, registry *adapter.Registry) *Manager {
	return &Manager{
		store:    store,
		limiter:  limiter,
		registry: registry,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

func cacheKey(adapterName, tenantKey string) string { return adapterName + "|" + tenantKey }

// AccessToken devuelve un access token vigente para el tenant, refrescando
// si hace falta. El fast path (token fresco) no toma el refresh lock.
func (m *Manager) AccessToken(ctx context.Context, adapterName, tenantKey string) (string, error) {
	e, err := m.entryFor(ctx, adapterName, tenantKey)
	if err != nil {
		return "", err
	}

	// Fast path sin lock: token fresco.
	if st := e.state.Load(); m.fresh(st) {
		return st.AccessToken, nil
	}

	// Expirado (o por expirar): tomar el refresh lock y re-chequear
	// (double-checked) por si otro caller ya refrescó.
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.Load()
	if m.fresh(st) {
		return st.AccessToken, nil
	}
	ns, err := m.refresh(ctx, adapterName, tenantKey, st)
	if err != nil {
		return "", err
	}
	e.state.Store(ns)
	return ns.AccessToken, nil
}

// fresh: expiresAt - skew >= now.
func (m *Manager) fresh(st *core.TokenState) bool {
	if st == nil {
		return false
	}
	return !st.ExpiresAt().Add(-skew).Before(m.now())
}

// entryFor resuelve (o carga, una sola vez) la entrada del cache.
func (m *Manager) entryFor(ctx context.Context, adapterName, tenantKey string) (*entry, error) {
	k := cacheKey(adapterName, tenantKey)

	m.mu.Lock()
	if e, ok := m.entries[k]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	// Carga inicial: todos los callers concurrentes de esta key comparten
	// el mismo load en vuelo.
	v, err, _ := m.loads.Do(k, func() (any, error) {
		st, err := m.store.GetToken(ctx, tenantKey, adapterName)
		if err != nil {
			return nil, err
		}
		e := &entry{}
		e.state.Store(st)
		m.mu.Lock()
		m.entries[k] = e
		m.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token: load %s/%s: %w", adapterName, tenantKey, err)
	}
	return v.(*entry), nil
}

// refresh llama al endpoint OAuth del adapter (gateado por el rate limiter),
// persiste el estado nuevo y recién entonces lo publica. El caller tiene el
// refresh lock.
func (m *Manager) refresh(ctx context.Context, adapterName, tenantKey string, st *core.TokenState) (*core.TokenState, error) {
	ad, err := m.registry.Get(adapterName)
	if err != nil {
		return nil, err
	}
	man := ad.Manifest()

	bucketKey := adapterName + ":rate-limit:" + tenantKey
	window := time.Duration(man.RateWindowMillis) * time.Millisecond
	if _, _, err := m.limiter.Acquire(ctx, bucketKey, window, man.RateLimit); err != nil {
		return nil, err
	}

	grant, err := ad.Refresh(ctx, st.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(adapterName, "error").Inc()
		// Error de transporte envuelto; el retry es del workflow layer.
		return nil, fmt.Errorf("token: refresh %s/%s: %w", adapterName, tenantKey, err)
	}

	ns := &core.TokenState{
		TenantKey:    tenantKey,
		Adapter:      adapterName,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		CreatedAt:    m.now().UTC(),
		ExpiresIn:    grant.ExpiresIn,
	}
	if ns.RefreshToken == "" {
		// Algunos providers no rotan el refresh token.
		ns.RefreshToken = st.RefreshToken
	}

	// Persistir antes de publicar en el cache: si el save falla, el próximo
	// caller vuelve a refrescar en vez de quedarse con estado no durable.
	if err := m.store.SaveToken(ctx, ns); err != nil {
		metrics.TokenRefreshes.WithLabelValues(adapterName, "error").Inc()
		return nil, fmt.Errorf("token: persist %s/%s: %w", adapterName, tenantKey, err)
	}

	metrics.TokenRefreshes.WithLabelValues(adapterName, "ok").Inc()
	logger.From(ctx).Info("token refreshed",
		logger.Adapter(adapterName),
		logger.Tenant(tenantKey),
		logger.Int("expires_in", ns.ExpiresIn),
	)
	return ns, nil
}
