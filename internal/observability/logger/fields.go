package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - SYNC
// =================================================================================

// Adapter crea un campo para el nombre del adapter (ej: "pco").
func Adapter(v string) zap.Field {
	return zap.String("adapter", v)
}

// Tenant crea un campo para la clave del tenant/org.
func Tenant(v string) zap.Field {
	return zap.String("tenant_key", v)
}

// Entity crea un campo para el tipo de entidad sincronizada.
func Entity(v string) zap.Field {
	return zap.String("entity", v)
}

// ExternalID crea un campo para el id remoto de una entidad.
func ExternalID(v string) zap.Field {
	return zap.String("external_id", v)
}

// RunKey crea un campo para la idempotency key de un workflow.
func RunKey(v string) zap.Field {
	return zap.String("run_key", v)
}

// Attempt crea un campo para el número de intento de una activity.
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

// Bucket crea un campo para la clave del rate bucket.
func Bucket(v string) zap.Field {
	return zap.String("bucket", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
