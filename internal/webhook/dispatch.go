package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/metrics"
	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/dropDatabas3/flocksync/internal/workflow"
)

// Puller dispara un pull de la entidad afectada por un evento.
type Puller interface {
	Pull(ctx context.Context, adapterName, orgID, entity string) error
}

// Dispatcher procesa un webhook ya leído en dos fases: resolver el org
// dueño del payload bajo el tenant bootstrap, y recién entonces procesar el
// evento bajo ese org. Cada fase reintenta por separado.
type Dispatcher struct {
	Verifier *Verifier
	Registry *adapter.Registry
	Engine   *workflow.Engine
	Store    core.WebhookRepository
	Puller   Puller

	// BootstrapKey es el tenant bajo el que corre la fase de resolución,
	// antes de conocer el org real.
	BootstrapKey string

	now func() time.Time
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now().UTC()
}

// Dispatch verifica la firma y ejecuta la saga de dos activities. Entregas
// repetidas del mismo body colapsan en un solo run (key por hash del body).
func (d *Dispatcher) Dispatch(ctx context.Context, adapterName string, headers http.Header, rawBody []byte) error {
	ad, err := d.Registry.Get(adapterName)
	if err != nil {
		return err
	}

	wc, err := d.Verifier.Verify(ctx, ad, headers, rawBody)
	if err != nil {
		metrics.WebhookReceipts.WithLabelValues(adapterName, "rejected").Inc()
		return err
	}
	metrics.WebhookReceipts.WithLabelValues(adapterName, "accepted").Inc()

	if err := d.Store.TouchWebhookReceived(ctx, wc.OrgID, adapterName, d.clock()); err != nil {
		logger.From(ctx).Warn("touch received failed",
			logger.Adapter(adapterName), logger.Tenant(wc.OrgID), logger.Err(err))
	}

	sum := sha256.Sum256(rawBody)
	runKey := fmt.Sprintf("webhook:%s:%s", adapterName, hex.EncodeToString(sum[:]))

	var orgID string
	err = d.Engine.Execute(ctx, runKey, []workflow.Activity{
		{
			Name: "resolve-org",
			Run: func(ctx context.Context) error {
				bctx := logger.ToContext(ctx, logger.From(ctx).With(logger.Tenant(d.BootstrapKey)))
				id, err := ad.OrgFromWebhook(bctx, rawBody)
				if err != nil {
					return err
				}
				orgID = id
				return nil
			},
		},
		{
			Name: "process-event",
			Run: func(ctx context.Context) error {
				entity := ad.EntityFromWebhook(rawBody)
				if entity == "" {
					// Evento que no toca ninguna colección sincronizable.
					return nil
				}
				if err := d.Puller.Pull(ctx, adapterName, orgID, entity); err != nil {
					return err
				}
				return d.Store.TouchWebhookProcessed(ctx, orgID, adapterName, d.clock())
			},
		},
	})
	if errors.Is(err, workflow.ErrDuplicateRun) {
		return nil
	}
	return err
}
