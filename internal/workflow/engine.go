// Package workflow es la capa de ejecución durable del sync engine: runs
// deduplicados por idempotency key, activities con retry fijo, y sagas con
// compensaciones en orden inverso.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/flocksync/internal/metrics"
	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"go.uber.org/zap"
)

// ErrDuplicateRun: ya hay un run efectivo o en vuelo con esta key. El
// trigger duplicado es backpressure normal, no una falla.
var ErrDuplicateRun = errors.New("workflow: duplicate run for idempotency key")

// Activity es un paso con retry propio y compensación opcional. La
// compensación deshace efectos parciales si el run termina fallando.
type Activity struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// RetryPolicy: reintentos secuenciales por activity.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 4
	}
	if p.Backoff <= 0 {
		p.Backoff = 2 * time.Second
	}
	return p
}

// Engine ejecuta sagas contra el run store.
type Engine struct {
	runs   core.RunRepository
	policy RetryPolicy

	// window es la granularidad del time bucket de las run keys.
	window time.Duration

	// notifier opcional: se le informan runs workflow-fatal.
	notifier Notifier

	now func() time.Time
}

// Notifier recibe fallas terminales (retries agotados) para el operador.
type Notifier interface {
	WorkflowFailed(ctx context.Context, runKey string, err error)
}

func NewEngine(runs core.RunRepository, policy RetryPolicy, window time.Duration) *Engine {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Engine{
		runs:   runs,
		policy: policy.normalized(),
		window: window,
		now:    time.Now,
	}
}

// SetNotifier registra el notifier de fallas terminales.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// RunKey deriva la idempotency key: tenant + operación + time bucket.
// Triggers del mismo bucket colapsan en una sola ejecución efectiva.
func (e *Engine) RunKey(tenantKey, op string) string {
	bucket := e.now().UTC().Truncate(e.window).Unix()
	return fmt.Sprintf("%s:%s:%d", tenantKey, op, bucket)
}

// Execute corre la saga bajo el claim de runKey. Las activities se ejecutan
// en orden con retry individual; si una agota sus intentos, las
// compensaciones de las ya completadas corren en orden inverso y el run
// queda failed.
func (e *Engine) Execute(ctx context.Context, runKey string, acts []Activity) error {
	claimed, err := e.runs.ClaimRun(ctx, runKey)
	if err != nil {
		return fmt.Errorf("workflow: claim %s: %w", runKey, err)
	}
	if !claimed {
		logger.From(ctx).Debug("duplicate trigger ignored", logger.RunKey(runKey))
		return ErrDuplicateRun
	}

	log := logger.From(ctx).With(logger.RunKey(runKey))
	for i, act := range acts {
		if err := e.retry(ctx, log, act); err != nil {
			e.compensate(ctx, log, acts[:i])
			ferr := fmt.Errorf("workflow: activity %q: %w", act.Name, err)
			if fe := e.runs.FinishRun(ctx, runKey, core.RunFailed, ferr.Error()); fe != nil {
				log.Error("finish run failed", logger.Err(fe))
			}
			if e.notifier != nil {
				e.notifier.WorkflowFailed(ctx, runKey, ferr)
			}
			return ferr
		}
	}
	if err := e.runs.FinishRun(ctx, runKey, core.RunDone, ""); err != nil {
		return fmt.Errorf("workflow: finish %s: %w", runKey, err)
	}
	return nil
}

// retry corre la activity hasta agotar el presupuesto de intentos.
func (e *Engine) retry(ctx context.Context, log *zap.Logger, act Activity) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := act.Run(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("activity failed",
			logger.String("activity", act.Name),
			logger.Attempt(attempt),
			logger.Err(err),
		)
		if attempt < e.policy.Attempts {
			metrics.ActivityRetries.Inc()
			t := time.NewTimer(e.policy.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return lastErr
}

// compensate deshace, en orden inverso, las activities ya completadas.
// Las compensaciones son best-effort: un fallo se loguea y se sigue.
func (e *Engine) compensate(ctx context.Context, log *zap.Logger, done []Activity) {
	for i := len(done) - 1; i >= 0; i-- {
		act := done[i]
		if act.Compensate == nil {
			continue
		}
		if err := act.Compensate(ctx); err != nil {
			log.Error("compensation failed",
				logger.String("activity", act.Name),
				logger.Err(err),
			)
		}
	}
}
