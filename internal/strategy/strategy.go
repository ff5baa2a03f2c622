// Package strategy defines the Strategy contract used by the simulator and a
// Registry that builds strategies from configuration.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"macrostrat/internal/domain"
	"macrostrat/internal/util"
)

// Strategy decides, once per trading day, whether to buy, sell, or hold.
//
// Decide sees only bars up to and including day (history[len-1] is today)
// and the pre-trade portfolio state valued at today's close. It must return
// the same Signal for the same inputs.
type Strategy interface {
	// Name returns the strategy type tag.
	Name() string

	// Init hands the strategy the trading calendar of the series it will run
	// over. It is called once before the first Decide.
	Init(ctx context.Context, cal *util.TradingCalendar) error

	// Decide returns today's signal.
	Decide(day int, history []domain.Bar, state domain.PortfolioState) domain.Signal
}

// Liquidator is implemented by strategies that want any open position closed
// on the final trading day of the run.
type Liquidator interface {
	LiquidateAtEnd() bool
}

// ParamSpec documents one strategy parameter.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     any    `json:"default"`
	Description string `json:"description"`
}

// Descriptor describes a registered strategy type.
type Descriptor struct {
	Type        domain.StrategyType `json:"type"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  []ParamSpec         `json:"parameters"`
}

// Factory builds a fresh strategy instance from normalised parameters.
type Factory func(params Params) (Strategy, error)

type entry struct {
	desc    Descriptor
	factory Factory
}

// Registry maps strategy type tags to factories. Every call to New returns a
// new instance, so concurrent runs never share strategy state.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.StrategyType]entry
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.StrategyType]entry),
	}
}

// Register adds a strategy type, replacing any previous registration.
func (r *Registry) Register(desc Descriptor, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.Type] = entry{desc: desc, factory: f}
}

// Get retrieves the descriptor for a type. The second return value indicates
// whether the type is registered.
func (r *Registry) Get(t domain.StrategyType) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e.desc, ok
}

// New builds the strategy selected by cfg. Unknown types fail with
// domain.ErrUnsupportedStrategy; bad parameters with domain.ErrInvalidRequest.
func (r *Registry) New(cfg domain.StrategyConfig) (Strategy, error) {
	r.mu.RLock()
	e, ok := r.entries[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedStrategy, cfg.Type)
	}

	params, err := NewParams(cfg.Parameters)
	if err != nil {
		return nil, err
	}
	s, err := e.factory(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", cfg.Type, err)
	}
	return s, nil
}

// List returns all registered descriptors sorted by type.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
