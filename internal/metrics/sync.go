package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sync-engine Prometheus metrics. Defined in a standalone package to avoid
// import cycles between the workflow engine and HTTP packages.

var (
	WorkflowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flocksync_workflow_runs_total",
		Help: "Workflow runs por adapter/operación/resultado",
	}, []string{"adapter", "op", "result"})

	ActivityRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flocksync_activity_retries_total",
		Help: "Reintentos de activities",
	})

	WebhookReceipts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flocksync_webhook_receipts_total",
		Help: "Webhooks recibidos por adapter/veredicto (accepted|rejected)",
	}, []string{"adapter", "verdict"})

	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flocksync_token_refreshes_total",
		Help: "Refresh de tokens por adapter/resultado",
	}, []string{"adapter", "result"})

	RateLimiterWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flocksync_ratelimit_wait_ms",
		Help:    "Espera en el rate limiter en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	MissingLinks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flocksync_missing_links_total",
		Help: "Missing links detectados por adapter/entidad",
	}, []string{"adapter", "entity"})
)

// Register registers the sync metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{
		WorkflowRuns, ActivityRetries, WebhookReceipts,
		TokenRefreshes, RateLimiterWait, MissingLinks,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
