package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/mutation"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/dropDatabas3/flocksync/internal/store/memory"
)

type signerAdapter struct{}

func (signerAdapter) Name() string { return "stub" }

func (signerAdapter) Manifest() adapter.Manifest {
	return adapter.Manifest{
		RateWindowMillis:      1000,
		RateLimit:             100,
		SignatureHeaderSHA256: "X-Webhook-Signature",
		SignatureHeaderSHA1:   "X-Webhooks-Authenticity",
		Entities:              []adapter.EntitySpec{{Name: "people", Path: "/v2/people"}},
	}
}

func (signerAdapter) Refresh(context.Context, string) (*adapter.TokenGrant, error) {
	return nil, errors.New("not implemented")
}

func (signerAdapter) ListPage(context.Context, string, adapter.EntitySpec, string) (*adapter.Page, error) {
	return nil, errors.New("not implemented")
}

func (signerAdapter) Push(context.Context, string, mutation.CRUDOp) error {
	return errors.New("not implemented")
}

func (signerAdapter) OrgFromWebhook(context.Context, []byte) (string, error) { return "org1", nil }
func (signerAdapter) EntityFromWebhook([]byte) string                        { return "people" }

func sign256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sign1(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func seedConfig(t *testing.T, st *memory.Store, orgID, method, secret string) {
	t.Helper()
	err := st.UpsertWebhookConfig(context.Background(), &core.WebhookConfig{
		OrgID:              orgID,
		Adapter:            "stub",
		AuthenticitySecret: secret,
		VerificationMethod: method,
		Enabled:            true,
	})
	if err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func TestVerify_SHA256Match(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "s3cret")
	v := &Verifier{Store: st}

	body := []byte(`{"data":{"id":"evt1"}}`)
	h := http.Header{}
	h.Set("X-Webhook-Signature", sign256("s3cret", body))

	wc, err := v.Verify(context.Background(), signerAdapter{}, h, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if wc.OrgID != "org1" {
		t.Fatalf("org = %q, want org1", wc.OrgID)
	}
}

func TestVerify_SHA1Match(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha1", "legacy")
	v := &Verifier{Store: st}

	body := []byte(`{"data":{"id":"evt1"}}`)
	h := http.Header{}
	h.Set("X-Webhooks-Authenticity", sign1("legacy", body))

	if _, err := v.Verify(context.Background(), signerAdapter{}, h, body); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerify_ByteFlipInvalidates(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "s3cret")
	v := &Verifier{Store: st}

	body := []byte(`{"data":{"id":"evt1"}}`)
	h := http.Header{}
	h.Set("X-Webhook-Signature", sign256("s3cret", body))

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] ^= 0x01

	if _, err := v.Verify(context.Background(), signerAdapter{}, h, tampered); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("want ErrNoMatch for tampered body, got %v", err)
	}
}

func TestVerify_FirstMatchAcrossTenants(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "alpha")
	seedConfig(t, st, "org2", "hmac-sha256", "beta")
	v := &Verifier{Store: st}

	body := []byte(`{"data":{"id":"evt1"}}`)
	h := http.Header{}
	h.Set("X-Webhook-Signature", sign256("beta", body))

	wc, err := v.Verify(context.Background(), signerAdapter{}, h, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if wc.OrgID != "org2" {
		t.Fatalf("org = %q, want org2", wc.OrgID)
	}
}

func TestVerify_MissingHeader(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "s3cret")
	v := &Verifier{Store: st}

	_, err := v.Verify(context.Background(), signerAdapter{}, http.Header{}, []byte(`{}`))
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("want ErrNoMatch, got %v", err)
	}
}
