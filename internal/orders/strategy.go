// Package orders decides which participant rows become kit delivery or
// pickup orders. Each project is handled by a Strategy selected from the
// Registry by the project's configured strategy key.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/logging"
	"logistics/pkg/domain"
)

var (
	// ErrUnknownStrategy is returned when no factory is registered for a key.
	ErrUnknownStrategy = errors.New("unknown order strategy")
	// ErrDataShape marks a row that cannot be turned into an order. Rows
	// failing with it are logged and skipped.
	ErrDataShape = errors.New("malformed order row")
)

// Strategy turns a project's report table into orders.
type Strategy interface {
	Name() string
	FilterOrders(ctx context.Context, table domain.Table) ([]domain.Order, error)
}

// Factory builds a Strategy for one configured project.
type Factory func(p config.Project, logger *zap.Logger) Strategy

// Registry maps strategy keys to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with the built-in project strategies.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(config.StrategyHCT, NewHCT)
	r.Register(config.StrategyAIRS, NewAIRS)
	r.Register(config.StrategyCascadia, NewCascadia)
	r.Register(config.StrategySCAN, NewSCAN)
	r.Register(config.StrategyPassthrough, NewPassthrough)
	return r
}

// Register adds or replaces the factory for key.
func (r *Registry) Register(key string, f Factory) {
	r.factories[key] = f
}

// Keys lists registered strategy keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Strategy builds the strategy configured for p.
func (r *Registry) Strategy(p config.Project, logger *zap.Logger) (Strategy, error) {
	f, ok := r.factories[p.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w %q for project %s", ErrUnknownStrategy, p.Strategy, p.Name)
	}
	return f(p, logging.OrNop(logger).With(zap.String("project", p.Name))), nil
}
