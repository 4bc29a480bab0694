// Package cache provee un cache byte-oriented con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process, para desarrollo/testing)
//   - Redis (distribuido, para producción)
//
// Lo usa la capa de bucket/route del rate limiter y cualquier lookup
// read-mostly que tolere expiración.
package cache

import "time"

// Cache define las operaciones mínimas de un cache de bytes.
type Cache interface {
	// Get obtiene un valor. ok=false si no existe o expiró.
	Get(k string) ([]byte, bool)

	// Set guarda un valor con TTL. ttl 0 ⇒ default del backend.
	Set(k string, v []byte, ttl time.Duration)

	// Delete elimina una key.
	Delete(k string)
}
