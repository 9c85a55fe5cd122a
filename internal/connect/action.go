package connect

import (
	"context"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// ActionConnector executes one external action kind (http, db, email,
// webhook, transform). Config carries connector settings, payload the
// interpolated request body; both arrive fully resolved.
type ActionConnector interface {
	Invoke(ctx context.Context, config map[string]any, payload map[string]any) (any, error)
}

// ActionConnectorFunc adapts a function to the ActionConnector interface.
type ActionConnectorFunc func(ctx context.Context, config map[string]any, payload map[string]any) (any, error)

func (f ActionConnectorFunc) Invoke(ctx context.Context, config map[string]any, payload map[string]any) (any, error) {
	return f(ctx, config, payload)
}

// Dispatcher routes action steps to the connector registered for their
// action type. Thread-safe.
type Dispatcher struct {
	mu         sync.RWMutex
	connectors map[schema.ActionType]ActionConnector
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{connectors: make(map[schema.ActionType]ActionConnector)}
}

// Register binds a connector to an action type. Returns an error on
// duplicate registration.
func (d *Dispatcher) Register(actionType schema.ActionType, c ActionConnector) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "connector is nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.connectors[actionType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "connector for %q already registered", actionType)
	}
	d.connectors[actionType] = c
	return nil
}

// Has reports whether a connector is registered for the action type.
func (d *Dispatcher) Has(actionType schema.ActionType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.connectors[actionType]
	return ok
}

// Invoke dispatches to the registered connector.
func (d *Dispatcher) Invoke(ctx context.Context, actionType schema.ActionType, config, payload map[string]any) (any, error) {
	d.mu.RLock()
	c, ok := d.connectors[actionType]
	d.mu.RUnlock()

	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no connector registered for action type %q", actionType)
	}
	return c.Invoke(ctx, config, payload)
}

// --- Param helpers shared by connectors ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return defaultVal
	}
}
