package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/metrics"
	"github.com/dropDatabas3/flocksync/internal/mutation"
	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/ratelimit"
	"github.com/dropDatabas3/flocksync/internal/reconcile"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"golang.org/x/sync/errgroup"
)

// TokenSource desacopla al orchestrator del token manager concreto.
type TokenSource interface {
	AccessToken(ctx context.Context, adapterName, tenantKey string) (string, error)
}

// Orchestrator compone limiter, tokens, adapters y store en los workflows
// push / pull / bulk.
type Orchestrator struct {
	Engine   *Engine
	Registry *adapter.Registry
	Store    core.Store
	Tokens   TokenSource
	Limiter  *ratelimit.Limiter
	Buckets  *ratelimit.Buckets
}

// RegisterBuckets publica el presupuesto de rate de cada adapter en la capa
// bucket/route: todas las rutas del adapter comparten un bucket nombrado.
func (o *Orchestrator) RegisterBuckets() error {
	for _, name := range o.Registry.Names() {
		ad, err := o.Registry.Get(name)
		if err != nil {
			return err
		}
		man := ad.Manifest()
		bk := ratelimit.Bucket{
			Name:         name + "-api",
			WindowMillis: man.RateWindowMillis,
			Limit:        man.RateLimit,
		}
		if err := o.Buckets.PutBucket(bk); err != nil {
			return err
		}
		for _, e := range man.Entities {
			o.Buckets.PutBucketRoute(name+":"+e.Path, bk.Name)
		}
	}
	return nil
}

// budgetFor resuelve el presupuesto de una ruta; si la ruta no está mapeada
// cae al manifest del adapter. Un bucket corrupto es fatal, no un default.
func (o *Orchestrator) budgetFor(ad adapter.Adapter, e adapter.EntitySpec) (time.Duration, int, error) {
	bk, err := o.Buckets.GetBucketForRoute(ad.Name() + ":" + e.Path)
	if err != nil {
		if errors.Is(err, ratelimit.ErrBucketNotFound) {
			man := ad.Manifest()
			return time.Duration(man.RateWindowMillis) * time.Millisecond, man.RateLimit, nil
		}
		return 0, 0, err
	}
	return time.Duration(bk.WindowMillis) * time.Millisecond, bk.Limit, nil
}

// ---- Pull: externo → local ----

// Pull trae todas las páginas de una colección remota, persistiendo cada
// página antes de pedir la siguiente, y reconciliando missing links.
func (o *Orchestrator) Pull(ctx context.Context, adapterName, orgID, entityName string) error {
	runKey := o.Engine.RunKey(orgID, "pull:"+adapterName+":"+entityName)
	err := o.Engine.Execute(ctx, runKey, []Activity{{
		Name: "pull-pages",
		Run: func(ctx context.Context) error {
			return o.pullPages(ctx, adapterName, orgID, entityName)
		},
	}})
	o.countRun(adapterName, "pull", err)
	if errors.Is(err, ErrDuplicateRun) {
		return nil
	}
	return err
}

func (o *Orchestrator) pullPages(ctx context.Context, adapterName, orgID, entityName string) error {
	ad, err := o.Registry.Get(adapterName)
	if err != nil {
		return err
	}
	spec, ok := entitySpec(ad, entityName)
	if !ok {
		return fmt.Errorf("workflow: entidad %q no declarada por %q", entityName, adapterName)
	}
	window, limit, err := o.budgetFor(ad, spec)
	if err != nil {
		return err
	}
	bucketKey := adapterName + ":rate-limit:" + orgID
	log := logger.From(ctx).With(logger.Adapter(adapterName), logger.Tenant(orgID), logger.Entity(entityName))

	pageURL := ""
	pages := 0
	for {
		tok, err := o.Tokens.AccessToken(ctx, adapterName, orgID)
		if err != nil {
			return err
		}
		if _, _, err := o.Limiter.Acquire(ctx, bucketKey, window, limit); err != nil {
			return err
		}
		page, err := ad.ListPage(ctx, tok, spec, pageURL)
		if err != nil {
			return err
		}

		// Persistir la página antes de pedir la siguiente.
		if err := o.persistPage(ctx, ad, orgID, spec, page.Entities); err != nil {
			return err
		}
		pages++
		log.Debug("page persisted", logger.Count(len(page.Entities)), logger.Int("page", pages))

		if page.NextURL == "" {
			break
		}
		pageURL = page.NextURL
	}
	log.Info("pull finished", logger.Int("pages", pages))
	return nil
}

// persistPage: upsert de links de la página + stubs por missing links.
func (o *Orchestrator) persistPage(ctx context.Context, ad adapter.Adapter, orgID string, spec adapter.EntitySpec, batch []adapter.Entity) error {
	for _, e := range batch {
		if e.ID == "" {
			continue
		}
		if err := o.Store.UpsertLink(ctx, &core.ExternalLink{
			OrgID:      orgID,
			EntityType: spec.Name,
			Adapter:    ad.Name(),
			ExternalID: e.ID,
		}); err != nil {
			return err
		}
	}

	existing, err := o.Store.ExistingExternalIDs(ctx, orgID, ad.Name())
	if err != nil {
		return err
	}
	missing := reconcile.MissingLinks(ad.Name(), batch, spec.Relationships, existing)
	for _, ml := range missing {
		metrics.MissingLinks.WithLabelValues(ml.Adapter, ml.EntityType).Inc()
		if err := o.Store.UpsertLink(ctx, &core.ExternalLink{
			OrgID:      orgID,
			EntityType: ml.EntityType,
			Adapter:    ml.Adapter,
			ExternalID: ml.ExternalID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ---- Bulk: un Pull por entidad sincronizable ----

// BulkSync lanza un Pull hijo por cada entidad del manifest no marcada
// SkipSync, con paralelismo sin tope. El padre falla sólo si falla un hijo.
func (o *Orchestrator) BulkSync(ctx context.Context, adapterName, orgID string) error {
	ad, err := o.Registry.Get(adapterName)
	if err != nil {
		return err
	}
	var g errgroup.Group
	for _, e := range ad.Manifest().Entities {
		if e.SkipSync {
			continue
		}
		e := e
		g.Go(func() error {
			return o.Pull(ctx, adapterName, orgID, e.Name)
		})
	}
	return g.Wait()
}

// ---- Push: local → externo ----

// Push empuja el outbox de mutaciones pendientes: las agrupa por entidad,
// convierte las custom a CRUD, y lanza un hijo por entidad. Si el run
// termina fallando, la compensación devuelve las mutaciones al outbox.
func (o *Orchestrator) Push(ctx context.Context, adapterName, orgID string) error {
	var claimed []core.PendingMutation

	runKey := o.Engine.RunKey(orgID, "push:"+adapterName)
	err := o.Engine.Execute(ctx, runKey, []Activity{
		{
			Name: "claim-mutations",
			Run: func(ctx context.Context) error {
				ms, err := o.Store.ClaimPendingMutations(ctx, orgID, adapterName)
				if err != nil {
					return err
				}
				claimed = ms
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return o.Store.ReleaseMutations(ctx, mutationIDs(claimed))
			},
		},
		{
			Name: "push-by-entity",
			Run: func(ctx context.Context) error {
				return o.pushClaimed(ctx, adapterName, orgID, claimed)
			},
			Compensate: func(ctx context.Context) error {
				return o.Store.ReleaseMutations(ctx, mutationIDs(claimed))
			},
		},
		{
			Name: "mark-done",
			Run: func(ctx context.Context) error {
				return o.Store.MarkMutationsDone(ctx, mutationIDs(claimed))
			},
		},
	})
	o.countRun(adapterName, "push", err)
	if errors.Is(err, ErrDuplicateRun) {
		return nil
	}
	return err
}

func (o *Orchestrator) pushClaimed(ctx context.Context, adapterName, orgID string, claimed []core.PendingMutation) error {
	if len(claimed) == 0 {
		return nil
	}
	ad, err := o.Registry.Get(adapterName)
	if err != nil {
		return err
	}

	// Convertir y agrupar por entidad; una mutación malformada falla el
	// batch con error tipado, no se descarta en silencio.
	byEntity := make(map[string][]mutation.CRUDOp)
	var order []string
	for _, m := range claimed {
		op, err := convertMutation(m)
		if err != nil {
			return err
		}
		if _, ok := byEntity[op.TableName]; !ok {
			order = append(order, op.TableName)
		}
		byEntity[op.TableName] = append(byEntity[op.TableName], *op)
	}

	man := ad.Manifest()
	window := time.Duration(man.RateWindowMillis) * time.Millisecond
	bucketKey := adapterName + ":rate-limit:" + orgID

	// Un hijo por entidad, paralelismo sin tope.
	var g errgroup.Group
	for _, entity := range order {
		entity := entity
		ops := byEntity[entity]
		g.Go(func() error {
			return o.Engine.Execute(ctx, o.Engine.RunKey(orgID, "push:"+adapterName+":"+entity), []Activity{{
				Name: "push-" + entity,
				Run: func(ctx context.Context) error {
					for _, op := range ops {
						tok, err := o.Tokens.AccessToken(ctx, adapterName, orgID)
						if err != nil {
							return err
						}
						if _, _, err := o.Limiter.Acquire(ctx, bucketKey, window, man.RateLimit); err != nil {
							return err
						}
						if err := ad.Push(ctx, tok, op); err != nil {
							return err
						}
					}
					return nil
				},
			}})
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, ErrDuplicateRun) {
		return err
	}
	return nil
}

// convertMutation normaliza una fila del outbox a CRUDOp. Los nombres
// estructurados "entity|operation" pasan por mutation.FromCustom.
func convertMutation(m core.PendingMutation) (*mutation.CRUDOp, error) {
	var args []any
	if len(m.Args) > 0 {
		if err := json.Unmarshal(m.Args, &args); err != nil {
			return nil, fmt.Errorf("workflow: args de mutación %s: %w", m.ID, err)
		}
	}
	return mutation.FromCustom(m.Name, args)
}

func mutationIDs(ms []core.PendingMutation) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func entitySpec(ad adapter.Adapter, name string) (adapter.EntitySpec, bool) {
	for _, e := range ad.Manifest().Entities {
		if e.Name == name {
			return e, true
		}
	}
	return adapter.EntitySpec{}, false
}

func (o *Orchestrator) countRun(adapterName, op string, err error) {
	switch {
	case err == nil:
		metrics.WorkflowRuns.WithLabelValues(adapterName, op, "ok").Inc()
	case errors.Is(err, ErrDuplicateRun):
		metrics.WorkflowRuns.WithLabelValues(adapterName, op, "duplicate").Inc()
	default:
		metrics.WorkflowRuns.WithLabelValues(adapterName, op, "failed").Inc()
	}
}
