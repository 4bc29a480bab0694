// Package webhook verifica la autenticidad de webhooks entrantes y los
// despacha al workflow layer en dos fases.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/store/core"
)

// ErrNoMatch: ninguna config habilitada firma este payload. Los webhooks
// no autenticados se rechazan, nunca se procesan "por las dudas".
var ErrNoMatch = errors.New("webhook: signature does not match any enabled config")

// Verifier recomputa el HMAC del body crudo contra cada config habilitada
// del adapter y devuelve la primera que matchea.
type Verifier struct {
	Store core.WebhookRepository
}

// Verify identifica la config dueña de la firma. El HMAC se computa sobre
// los bytes crudos del request (nunca sobre el payload re-serializado) y se
// compara en tiempo constante contra el header del método de cada config.
func (v *Verifier) Verify(ctx context.Context, ad adapter.Adapter, headers http.Header, rawBody []byte) (*core.WebhookConfig, error) {
	configs, err := v.Store.ListEnabledWebhookConfigs(ctx, ad.Name())
	if err != nil {
		return nil, fmt.Errorf("webhook: list configs: %w", err)
	}
	man := ad.Manifest()
	for i := range configs {
		wc := &configs[i]
		header, alg, err := headerFor(man, wc.VerificationMethod)
		if err != nil || header == "" {
			continue
		}
		got := headers.Get(header)
		if got == "" {
			continue
		}
		want := digest(alg, wc.AuthenticitySecret, rawBody)
		if hmac.Equal([]byte(want), []byte(got)) {
			return wc, nil
		}
	}
	return nil, ErrNoMatch
}

// digest computa el HMAC hex del body con el secreto dado.
func digest(h func() hash.Hash, secret string, rawBody []byte) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// headerFor resuelve qué header lleva la firma según el método de la config.
func headerFor(man adapter.Manifest, method string) (string, func() hash.Hash, error) {
	switch method {
	case "hmac-sha256":
		return man.SignatureHeaderSHA256, sha256.New, nil
	case "hmac-sha1":
		return man.SignatureHeaderSHA1, sha1.New, nil
	default:
		return "", nil, fmt.Errorf("webhook: método de verificación desconocido %q", method)
	}
}
