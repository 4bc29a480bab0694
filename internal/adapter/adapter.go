// Package adapter define el contrato de una integración con un ChMS externo
// y el registry por el que el orchestrator la resuelve por nombre.
package adapter

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/flocksync/internal/mutation"
)

// EntitySpec describe una colección remota sincronizable.
type EntitySpec struct {
	// Name es el tipo canónico interno ("people", "campuses", ...).
	Name string
	// Path es el path de la colección en la API remota.
	Path string
	// SkipSync excluye la entidad del bulk sync.
	SkipSync bool
	// Relationships: relationshipKey -> tipo canónico referenciado.
	// Manifest estático escrito por el autor del adapter; se valida al
	// registrar, no se descubre por reflection.
	Relationships map[string]string
}

// Manifest declara las capacidades de un adapter.
type Manifest struct {
	Entities []EntitySpec

	// Presupuesto de rate impuesto por la API externa.
	RateWindowMillis int64
	RateLimit        int

	// Headers de firma de webhooks por método de verificación.
	SignatureHeaderSHA256 string
	SignatureHeaderSHA1   string
}

// Validate chequea el manifest al registrar el adapter.
func (m Manifest) Validate() error {
	if len(m.Entities) == 0 {
		return fmt.Errorf("adapter: manifest sin entidades")
	}
	if m.RateWindowMillis <= 0 || m.RateLimit <= 0 {
		return fmt.Errorf("adapter: rate budget inválido (window=%d limit=%d)", m.RateWindowMillis, m.RateLimit)
	}
	seen := make(map[string]bool, len(m.Entities))
	for _, e := range m.Entities {
		if e.Name == "" || e.Path == "" {
			return fmt.Errorf("adapter: entidad con name/path vacío: %+v", e)
		}
		if seen[e.Name] {
			return fmt.Errorf("adapter: entidad duplicada %q", e.Name)
		}
		seen[e.Name] = true
		for k, v := range e.Relationships {
			if k == "" || v == "" {
				return fmt.Errorf("adapter: relación inválida %q->%q en %q", k, v, e.Name)
			}
		}
	}
	return nil
}

// Entity es una entidad remota ya parseada: id + referencias anidadas.
type Entity struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Attributes    map[string]any    `json:"attributes"`
	Relationships map[string]RelRef `json:"relationships"`
}

// RelRef es la referencia anidada {data: {id, type}}. Data nil ⇒ sin vínculo.
type RelRef struct {
	Data *RelData `json:"data"`
}

type RelData struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Page es una página de una colección remota. NextURL vacío ⇒ última página.
type Page struct {
	Entities []Entity
	NextURL  string
}

// TokenGrant es la respuesta del endpoint OAuth del adapter.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Adapter es una integración con un ChMS externo. Las implementaciones hacen
// HTTP puro: la admisión de rate y los retries de workflow son del caller.
type Adapter interface {
	Name() string
	Manifest() Manifest

	// Refresh canjea un refresh token por un grant nuevo
	// (grant_type=refresh_token contra el token endpoint del adapter).
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)

	// ListPage trae una página de la colección. pageURL vacío ⇒ primera
	// página; si no, el "next" link que devolvió el server.
	ListPage(ctx context.Context, accessToken string, entity EntitySpec, pageURL string) (*Page, error)

	// Push aplica una operación CRUD local sobre el sistema externo.
	Push(ctx context.Context, accessToken string, op mutation.CRUDOp) error

	// OrgFromWebhook resuelve el org dueño de un payload de webhook.
	OrgFromWebhook(ctx context.Context, payload []byte) (string, error)

	// EntityFromWebhook mapea el nombre de evento del payload a la entidad
	// canónica afectada ("" si el evento no toca ninguna colección).
	EntityFromWebhook(payload []byte) string
}
