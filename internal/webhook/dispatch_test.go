package webhook

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/store/memory"
	"github.com/dropDatabas3/flocksync/internal/workflow"
)

type recordingPuller struct {
	mu    sync.Mutex
	calls []string // "adapter/org/entity"
	fail  error
}

func (p *recordingPuller) Pull(_ context.Context, adapterName, orgID, entity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.calls = append(p.calls, adapterName+"/"+orgID+"/"+entity)
	return nil
}

func newDispatcher(t *testing.T, st *memory.Store, p Puller) *Dispatcher {
	t.Helper()
	reg := adapter.NewRegistry()
	if err := reg.Register(signerAdapter{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &Dispatcher{
		Verifier:     &Verifier{Store: st},
		Registry:     reg,
		Engine:       workflow.NewEngine(st, workflow.RetryPolicy{Attempts: 2, Backoff: time.Millisecond}, 5*time.Minute),
		Store:        st,
		Puller:       p,
		BootstrapKey: "bootstrap",
	}
}

func TestDispatch_TwoPhases(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "s3cret")
	p := &recordingPuller{}
	d := newDispatcher(t, st, p)

	body := []byte(`{"data":{"id":"evt1"}}`)
	h := http.Header{}
	h.Set("X-Webhook-Signature", sign256("s3cret", body))

	if err := d.Dispatch(context.Background(), "stub", h, body); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) != 1 || p.calls[0] != "stub/org1/people" {
		t.Fatalf("pulls = %v", p.calls)
	}

	cfgs, _ := st.ListEnabledWebhookConfigs(context.Background(), "stub")
	if cfgs[0].LastReceivedAt == nil || cfgs[0].LastProcessedAt == nil {
		t.Fatalf("timestamps not touched: %+v", cfgs[0])
	}
}

func TestDispatch_RejectsUnsigned(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "s3cret")
	p := &recordingPuller{}
	d := newDispatcher(t, st, p)

	err := d.Dispatch(context.Background(), "stub", http.Header{}, []byte(`{}`))
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("want ErrNoMatch, got %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) != 0 {
		t.Fatal("unsigned webhook reached the puller")
	}
}

func TestDispatch_DuplicateDeliveryCollapses(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "s3cret")
	p := &recordingPuller{}
	d := newDispatcher(t, st, p)

	body := []byte(`{"data":{"id":"evt1"}}`)
	h := http.Header{}
	h.Set("X-Webhook-Signature", sign256("s3cret", body))

	if err := d.Dispatch(context.Background(), "stub", h, body); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := d.Dispatch(context.Background(), "stub", h, body); err != nil {
		t.Fatalf("redelivery should be silent: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) != 1 {
		t.Fatalf("pulls = %d, want 1 (redelivery collapsed)", len(p.calls))
	}
}

func TestDispatch_ProcessFailureLeavesProcessedUntouched(t *testing.T) {
	st := memory.New()
	seedConfig(t, st, "org1", "hmac-sha256", "s3cret")
	p := &recordingPuller{fail: errors.New("pull down")}
	d := newDispatcher(t, st, p)

	body := []byte(`{"data":{"id":"evt1"}}`)
	h := http.Header{}
	h.Set("X-Webhook-Signature", sign256("s3cret", body))

	if err := d.Dispatch(context.Background(), "stub", h, body); err == nil {
		t.Fatal("dispatch should surface pull failure")
	}

	cfgs, _ := st.ListEnabledWebhookConfigs(context.Background(), "stub")
	if cfgs[0].LastReceivedAt == nil {
		t.Fatal("received timestamp missing")
	}
	if cfgs[0].LastProcessedAt != nil {
		t.Fatal("processed timestamp set despite failure")
	}
}
