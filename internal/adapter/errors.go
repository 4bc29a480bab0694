package adapter

import (
	"errors"
	"fmt"
)

// Taxonomía de errores de la superficie HTTP externa.
//
//   - 429 / 5xx: transporte, reintentable acá (Retry-After o delay fijo).
//   - 401 / 403: la conexión requiere re-autorización; no se reintenta.
//   - resto ≥400: request/entidad inválida; no se reintenta.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("adapter: http %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Retryable: el cliente HTTP puede reintentar antes de que el workflow layer
// vea el error.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// AuthFailure: el token dejó de servir; el tenant debe re-autorizar.
func (e *StatusError) AuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsAuthFailure reporta si err encadena un 401/403.
func IsAuthFailure(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.AuthFailure()
}

// IsValidation reporta si err encadena un 4xx no-auth, no-rate.
func IsValidation(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500 &&
		!se.AuthFailure() && se.StatusCode != 429
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
