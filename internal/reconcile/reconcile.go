// Package reconcile mapea identificadores externos contra el grafo interno:
// dado un batch recién traído del adapter, detecta los ids externos
// referenciados que todavía no existen como ExternalLink.
package reconcile

import (
	"sort"

	"github.com/dropDatabas3/flocksync/internal/adapter"
)

// MissingLink es un vínculo referenciado pero aún no persistido.
type MissingLink struct {
	Adapter    string
	EntityType string // tipo canónico según el relationship manifest
	ExternalID string
}

// MissingLinks recorre el batch y emite exactamente un missing link por id
// externo referenciado y desconocido, en orden de primera aparición.
//
// relationships es el manifest estático relationshipKey → tipo canónico del
// adapter; existing es el índice de links ya persistidos (por external id).
// Un id referenciado por k entidades del batch produce un solo registro.
func MissingLinks(adapterName string, batch []adapter.Entity, relationships map[string]string, existing map[string]struct{}) []MissingLink {
	if len(relationships) == 0 || len(batch) == 0 {
		return nil
	}

	// Claves del manifest en orden estable para que "primera aparición"
	// sea determinístico también dentro de una entidad.
	keys := make([]string, 0, len(relationships))
	for k := range relationships {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]struct{})
	var out []MissingLink
	for _, e := range batch {
		for _, rk := range keys {
			ref, ok := e.Relationships[rk]
			if !ok || ref.Data == nil || ref.Data.ID == "" {
				continue
			}
			id := ref.Data.ID
			if _, ok := existing[id]; ok {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, MissingLink{
				Adapter:    adapterName,
				EntityType: relationships[rk],
				ExternalID: id,
			})
		}
	}
	return out
}
