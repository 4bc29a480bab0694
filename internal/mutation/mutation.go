// Package mutation convierte mutaciones "custom" locales en operaciones CRUD
// equivalentes que un adapter puede empujar al sistema externo.
package mutation

import (
	"errors"
	"fmt"
	"strings"
)

// CRUDOp es la forma normalizada de una mutación.
type CRUDOp struct {
	Op         string            `json:"op"` // create | update | delete
	TableName  string            `json:"tableName"`
	PrimaryKey map[string]string `json:"primaryKey"`
	Value      map[string]any    `json:"value"`
}

var (
	// ErrMutationName: nombre custom sin el separador "entity|operation".
	ErrMutationName = errors.New("mutation: malformed name, expected \"entity|operation\"")
	// ErrUnsupportedOp: operación que no mapea a CRUD.
	ErrUnsupportedOp = errors.New("mutation: unsupported operation")
	// ErrBadPayload: args sin objeto no-nulo con id string.
	ErrBadPayload = errors.New("mutation: payload must be a non-null object with a string id")
)

var supportedOps = map[string]bool{
	"create": true,
	"update": true,
	"delete": true,
}

// FromCustom parsea un nombre estructurado "entity|operation" y valida la
// forma del payload. Nombres malformados u operaciones no soportadas fallan
// con error tipado: nunca se descartan en silencio.
func FromCustom(name string, args []any) (*CRUDOp, error) {
	entity, op, ok := strings.Cut(name, "|")
	if !ok || entity == "" || op == "" {
		return nil, fmt.Errorf("%w: %q", ErrMutationName, name)
	}
	if !supportedOps[op] {
		return nil, fmt.Errorf("%w: %q (en %q)", ErrUnsupportedOp, op, name)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: sin args (en %q)", ErrBadPayload, name)
	}
	obj, ok := args[0].(map[string]any)
	if !ok || obj == nil {
		return nil, fmt.Errorf("%w: args[0] no es objeto (en %q)", ErrBadPayload, name)
	}
	id, ok := obj["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: id faltante (en %q)", ErrBadPayload, name)
	}
	return &CRUDOp{
		Op:         op,
		TableName:  entity,
		PrimaryKey: map[string]string{"id": id},
		Value:      obj,
	}, nil
}
