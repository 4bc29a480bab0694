package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/mutation"
	"github.com/dropDatabas3/flocksync/internal/ratelimit"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/dropDatabas3/flocksync/internal/store/memory"
)

// fakeAdapter cuenta refreshes y devuelve grants secuenciales.
type fakeAdapter struct {
	refreshes atomic.Int64
	delay     time.Duration
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Manifest() adapter.Manifest {
	return adapter.Manifest{
		Entities:              []adapter.EntitySpec{{Name: "people", Path: "/people"}},
		RateWindowMillis:      20000,
		RateLimit:             101,
		SignatureHeaderSHA256: "X-Webhook-Signature",
	}
}

func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*adapter.TokenGrant, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.refreshes.Add(1)
	return &adapter.TokenGrant{
		AccessToken:  "access-" + refreshToken,
		RefreshToken: "rot-" + refreshToken,
		ExpiresIn:    7200,
	}, nil
}

func (f *fakeAdapter) ListPage(context.Context, string, adapter.EntitySpec, string) (*adapter.Page, error) {
	return &adapter.Page{}, nil
}
func (f *fakeAdapter) Push(context.Context, string, mutation.CRUDOp) error { return nil }
func (f *fakeAdapter) OrgFromWebhook(context.Context, []byte) (string, error) {
	return "", nil
}
func (f *fakeAdapter) EntityFromWebhook([]byte) string { return "" }

func newManagerForTest(t *testing.T, fa *fakeAdapter, st *core.TokenState) (*Manager, *memory.Store) {
	t.Helper()
	reg := adapter.NewRegistry()
	if err := reg.Register(fa); err != nil {
		t.Fatal(err)
	}
	ms := memory.New()
	if st != nil {
		if err := ms.SaveToken(context.Background(), st); err != nil {
			t.Fatal(err)
		}
	}
	lim := ratelimit.New(ratelimit.NewMemoryCounterStore(), 5*time.Second)
	return NewManager(ms, lim, reg), ms
}

func expiredState() *core.TokenState {
	return &core.TokenState{
		TenantKey:    "org1",
		Adapter:      "fake",
		AccessToken:  "stale",
		RefreshToken: "r0",
		CreatedAt:    time.Now().Add(-3 * time.Hour),
		ExpiresIn:    7200,
	}
}

func TestAccessToken_RefreshMutualExclusion(t *testing.T) {
	fa := &fakeAdapter{delay: 30 * time.Millisecond}
	m, _ := newManagerForTest(t, fa, expiredState())

	const n = 24
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.AccessToken(context.Background(), "fake", "org1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d recibió %q, caller 0 %q", i, tokens[i], tokens[0])
		}
	}
	if got := fa.refreshes.Load(); got != 1 {
		t.Fatalf("refreshes = %d, want exactamente 1", got)
	}
	if tokens[0] != "access-r0" {
		t.Fatalf("token = %q", tokens[0])
	}
}

func TestAccessToken_FreshTokenSkipsRefresh(t *testing.T) {
	fa := &fakeAdapter{}
	st := expiredState()
	st.CreatedAt = time.Now()
	m, _ := newManagerForTest(t, fa, st)

	tok, err := m.AccessToken(context.Background(), "fake", "org1")
	if err != nil {
		t.Fatal(err)
	}
	if tok != "stale" {
		t.Fatalf("token = %q, want el cacheado", tok)
	}
	if fa.refreshes.Load() != 0 {
		t.Fatalf("no debía refrescar")
	}
}

func TestAccessToken_RefreshPersistsNewState(t *testing.T) {
	fa := &fakeAdapter{}
	m, ms := newManagerForTest(t, fa, expiredState())

	if _, err := m.AccessToken(context.Background(), "fake", "org1"); err != nil {
		t.Fatal(err)
	}
	st, err := ms.GetToken(context.Background(), "org1", "fake")
	if err != nil {
		t.Fatal(err)
	}
	if st.AccessToken != "access-r0" || st.RefreshToken != "rot-r0" {
		t.Fatalf("estado persistido: %+v", st)
	}
	if st.ExpiresIn != 7200 {
		t.Fatalf("expires_in = %d", st.ExpiresIn)
	}
}

func TestAccessToken_UnknownTenant(t *testing.T) {
	fa := &fakeAdapter{}
	m, _ := newManagerForTest(t, fa, nil)

	if _, err := m.AccessToken(context.Background(), "fake", "ghost"); err == nil {
		t.Fatal("esperaba error para tenant sin token")
	}
}
