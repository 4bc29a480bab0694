package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dropDatabas3/flocksync/internal/cache"
)

// Bucket describe una política de admisión para una ruta lógica.
// Read-mostly: lo escribe la configuración, lo lee cada Acquire.
type Bucket struct {
	Name         string `json:"name"`
	WindowMillis int64  `json:"windowMillis"`
	Limit        int    `json:"limit"`
}

var (
	ErrBucketNotFound = errors.New("ratelimit: bucket not found")
	// ErrCorruptBucket: JSON guardado ilegible. Se reporta distinto de
	// not-found, nunca se degrada a un default.
	ErrCorruptBucket = errors.New("ratelimit: corrupt bucket payload")
)

// Buckets es la capa de lookup bucket/ruta: varias rutas lógicas pueden
// compartir un mismo bucket nombrado.
type Buckets struct {
	cache cache.Cache
}

func NewBuckets(c cache.Cache) *Buckets {
	return &Buckets{cache: c}
}

func bucketKey(name string) string { return "bucket:" + name }
func routeKey(route string) string { return "bucket-route:" + route }

// PutBucket registra (o reemplaza) un bucket nombrado.
func (b *Buckets) PutBucket(bk Bucket) error {
	if bk.Name == "" || bk.Limit <= 0 || bk.WindowMillis <= 0 {
		return fmt.Errorf("ratelimit: bucket inválido: %+v", bk)
	}
	raw, err := json.Marshal(bk)
	if err != nil {
		return err
	}
	b.cache.Set(bucketKey(bk.Name), raw, 0)
	return nil
}

// PutBucketRoute asocia una ruta lógica a un bucket nombrado.
func (b *Buckets) PutBucketRoute(route, bucketName string) {
	b.cache.Set(routeKey(route), []byte(bucketName), 0)
}

// GetBucketForRoute resuelve ruta → bucket.
func (b *Buckets) GetBucketForRoute(route string) (Bucket, error) {
	name, ok := b.cache.Get(routeKey(route))
	if !ok {
		return Bucket{}, fmt.Errorf("%w: route %q", ErrBucketNotFound, route)
	}
	raw, ok := b.cache.Get(bucketKey(string(name)))
	if !ok {
		return Bucket{}, fmt.Errorf("%w: %q (route %q)", ErrBucketNotFound, name, route)
	}
	var bk Bucket
	if err := json.Unmarshal(raw, &bk); err != nil {
		return Bucket{}, fmt.Errorf("%w: %q: %v", ErrCorruptBucket, name, err)
	}
	return bk, nil
}
