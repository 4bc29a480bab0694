package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/flocksync/internal/cache/memory"
)

func TestPerRequestCost(t *testing.T) {
	cases := []struct {
		window time.Duration
		limit  int
		want   time.Duration
	}{
		{20 * time.Second, 101, 199 * time.Millisecond}, // ceil(20000/101)=199
		{time.Second, 1, time.Second},
		{time.Second, 1000, time.Millisecond},
		{100 * time.Millisecond, 1000, time.Millisecond}, // floor a 1ms mínimo
	}
	for _, c := range cases {
		if got := perRequestCost(c.window, c.limit); got != c.want {
			t.Fatalf("perRequestCost(%v,%d) = %v, want %v", c.window, c.limit, got, c.want)
		}
	}
}

func TestMemoryCounter_MonotonicTTL(t *testing.T) {
	// Reloj congelado: K toques seguidos deben dar TTLs estrictamente
	// crecientes, con el K-ésimo ≈ K*ceil(window/limit).
	fixed := time.Now()
	s := NewMemoryCounterStore()
	s.now = func() time.Time { return fixed }

	cost := perRequestCost(20*time.Second, 101) // 199ms
	var prev time.Duration
	for k := 1; k <= 25; k++ {
		count, ttl, err := s.Touch(context.Background(), "pco:rate-limit:org1", cost)
		if err != nil {
			t.Fatalf("touch %d: %v", k, err)
		}
		if count != int64(k) {
			t.Fatalf("count = %d, want %d", count, k)
		}
		if ttl <= prev {
			t.Fatalf("ttl no monotónico en k=%d: %v <= %v", k, ttl, prev)
		}
		if want := time.Duration(k) * cost; ttl != want {
			t.Fatalf("ttl en k=%d = %v, want %v", k, ttl, want)
		}
		prev = ttl
	}
}

func TestMemoryCounter_ResetsAfterExpiry(t *testing.T) {
	now := time.Now()
	s := NewMemoryCounterStore()
	s.now = func() time.Time { return now }

	cost := 100 * time.Millisecond
	for i := 0; i < 5; i++ {
		if _, _, err := s.Touch(context.Background(), "k", cost); err != nil {
			t.Fatal(err)
		}
	}
	// pasa la expiración acumulada ⇒ el contador arranca de cero
	now = now.Add(time.Second)
	count, ttl, err := s.Touch(context.Background(), "k", cost)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count tras expiración = %d, want 1", count)
	}
	if ttl != cost {
		t.Fatalf("ttl tras expiración = %v, want %v", ttl, cost)
	}
}

func TestAcquire_NoSleepUnderTolerance(t *testing.T) {
	s := NewMemoryCounterStore()
	l := New(s, 5*time.Second)

	start := time.Now()
	count, _, err := l.Acquire(context.Background(), "b", 20*time.Second, 101)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d", count)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("primer acquire durmió sin necesidad")
	}
}

func TestAcquire_ContextCancelWhileWaiting(t *testing.T) {
	s := NewMemoryCounterStore()
	l := New(s, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	// llenar el bucket para forzar espera larga
	for i := 0; i < 50; i++ {
		if _, _, err := s.Touch(ctx, "b", 200*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _, err := l.Acquire(ctx, "b", 10*time.Second, 50)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBuckets_RouteLookup(t *testing.T) {
	b := NewBuckets(memory.New(time.Minute))

	if err := b.PutBucket(Bucket{Name: "pco-api", WindowMillis: 20000, Limit: 101}); err != nil {
		t.Fatal(err)
	}
	b.PutBucketRoute("pco:/people/v2/people", "pco-api")
	b.PutBucketRoute("pco:/people/v2/addresses", "pco-api")

	for _, route := range []string{"pco:/people/v2/people", "pco:/people/v2/addresses"} {
		bk, err := b.GetBucketForRoute(route)
		if err != nil {
			t.Fatalf("%s: %v", route, err)
		}
		if bk.Limit != 101 || bk.WindowMillis != 20000 {
			t.Fatalf("bucket inesperado: %+v", bk)
		}
	}

	if _, err := b.GetBucketForRoute("pco:/nope"); !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("err = %v, want ErrBucketNotFound", err)
	}
}

func TestBuckets_CorruptPayloadIsDistinct(t *testing.T) {
	c := memory.New(time.Minute)
	b := NewBuckets(c)

	b.PutBucketRoute("r", "broken")
	c.Set("bucket:broken", []byte("{not json"), 0)

	_, err := b.GetBucketForRoute("r")
	if !errors.Is(err, ErrCorruptBucket) {
		t.Fatalf("err = %v, want ErrCorruptBucket", err)
	}
	if errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("corrupt no debe reportarse como not-found")
	}

	// sanity: un payload válido no dispara el error
	raw, _ := json.Marshal(Bucket{Name: "broken", WindowMillis: 1000, Limit: 10})
	c.Set("bucket:broken", raw, 0)
	if _, err := b.GetBucketForRoute("r"); err != nil {
		t.Fatalf("payload válido: %v", err)
	}
}
