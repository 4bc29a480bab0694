// Package ratelimit implementa admission control para llamadas salientes a
// APIs externas: leaky bucket emulado sobre un contador atómico compartido.
//
// A diferencia de una ventana fija, cada admisión corre la expiración del
// contador en perRequestCost = ceil(window/limit), de modo que el caudal
// admitido queda repartido parejo dentro de la ventana en vez de permitir
// ráfagas contra el borde.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/flocksync/internal/metrics"
	"github.com/dropDatabas3/flocksync/internal/observability/logger"
)

// CounterStore es el contador compartido. Touch debe ser atómico en el
// backend (un solo round trip, sin read-modify-write): si el contador
// expiró arranca de cero, incrementa, y corre la expiración en cost.
type CounterStore interface {
	Touch(ctx context.Context, counterKey string, cost time.Duration) (count int64, ttl time.Duration, err error)
}

// Limiter bloquea al caller hasta que su request sea admisible. Nunca
// rechaza: degrada a espera.
type Limiter struct {
	Store CounterStore

	// Tolerance: TTLs devueltos por debajo de este valor no duermen.
	Tolerance time.Duration
}

func New(store CounterStore, tolerance time.Duration) *Limiter {
	if tolerance <= 0 {
		tolerance = 500 * time.Millisecond
	}
	return &Limiter{Store: store, Tolerance: tolerance}
}

// Acquire admite un request contra el bucket dado. Devuelve el conteo y el
// TTL que dejó el contador. La indisponibilidad del store es un error de
// infraestructura: acá no se reintenta (eso es del workflow layer).
func (l *Limiter) Acquire(ctx context.Context, bucketKey string, window time.Duration, limit int) (int64, time.Duration, error) {
	if limit <= 0 {
		return 0, 0, fmt.Errorf("ratelimit: limit inválido %d para %q", limit, bucketKey)
	}
	cost := perRequestCost(window, limit)

	count, ttl, err := l.Store.Touch(ctx, bucketKey, cost)
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: counter store: %w", err)
	}

	// El propio Touch ya corrió la expiración en cost; lo que falta para el
	// slot de este request es ttl-cost (los slots de los anteriores).
	if ttl > l.Tolerance {
		wait := ttl - cost
		if wait < 0 {
			wait = 0
		}
		if wait > 0 {
			logger.From(ctx).Debug("rate limiter waiting",
				logger.Bucket(bucketKey),
				logger.Duration(wait),
				logger.Int("count", int(count)),
			)
			metrics.RateLimiterWait.Observe(float64(wait.Milliseconds()))
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return count, ttl, ctx.Err()
			case <-t.C:
			}
		}
	}
	return count, ttl, nil
}

// perRequestCost = ceil(window/limit), redondeado a milisegundo.
func perRequestCost(window time.Duration, limit int) time.Duration {
	w := window.Milliseconds()
	c := w / int64(limit)
	if w%int64(limit) != 0 {
		c++
	}
	if c < 1 {
		c = 1
	}
	return time.Duration(c) * time.Millisecond
}
