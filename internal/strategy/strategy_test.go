package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macrostrat/internal/domain"
	"macrostrat/internal/util"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
	size float64
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Init(_ context.Context, _ *util.TradingCalendar) error { return nil }

func (s *stubStrategy) Decide(int, []domain.Bar, domain.PortfolioState) domain.Signal {
	return domain.Hold()
}

func stubFactory(name string) Factory {
	return func(p Params) (Strategy, error) {
		size, err := p.Float("size", 1)
		if err != nil {
			return nil, err
		}
		return &stubStrategy{name: name, size: size}, nil
	}
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Type: "test-strategy", Name: "Test"}, stubFactory("test-strategy"))

	desc, ok := r.Get("test-strategy")
	require.True(t, ok)
	assert.Equal(t, "Test", desc.Name)

	s, err := r.New(domain.StrategyConfig{Type: "test-strategy", Parameters: map[string]any{"size": 3}})
	require.NoError(t, err)
	assert.Equal(t, "test-strategy", s.Name())
	assert.Equal(t, 3.0, s.(*stubStrategy).size)

	// Each call yields a distinct instance.
	other, err := r.New(domain.StrategyConfig{Type: "test-strategy"})
	require.NoError(t, err)
	assert.NotSame(t, s, other)
}

func TestRegistryNewUnsupported(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(domain.StrategyConfig{Type: "nonexistent"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedStrategy))
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
}

func TestRegistryNewBadParams(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Type: "s"}, stubFactory("s"))

	_, err := r.New(domain.StrategyConfig{Type: "s", Parameters: map[string]any{"size": "big"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.NotErrorIs(t, err, domain.ErrUnsupportedStrategy)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Type: "beta"}, stubFactory("beta"))
	r.Register(Descriptor{Type: "alpha"}, stubFactory("alpha"))

	list := r.List()
	require.Len(t, list, 2)
	// List returns descriptors sorted by type.
	assert.Equal(t, domain.StrategyType("alpha"), list[0].Type)
	assert.Equal(t, domain.StrategyType("beta"), list[1].Type)
}

func TestParamsNormalisation(t *testing.T) {
	p, err := NewParams(map[string]any{
		"int":    7,
		"int64":  int64(2),
		"float":  0.25,
		"name":   "monthly",
		"flag":   true,
		"nested": map[string]any{"k": 1},
	})
	require.NoError(t, err)

	n, err := p.Int("int", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = p.Int("int64", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = p.Int("float", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest, "fractional value is not an int")

	s, err := p.String("name", "")
	require.NoError(t, err)
	assert.Equal(t, "monthly", s)

	b, err := p.Bool("flag", false)
	require.NoError(t, err)
	assert.True(t, b)

	def, err := p.Float("missing", 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, def)

	_, err = p.Bool("name", false)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestParamsAllocationBounds(t *testing.T) {
	for _, tc := range []struct {
		value any
		ok    bool
	}{
		{1.0, true},
		{0.5, true},
		{0.0, false},
		{1.2, false},
		{-0.1, false},
	} {
		p, err := NewParams(map[string]any{"target_allocation": tc.value})
		require.NoError(t, err)
		_, err = p.Allocation("target_allocation", 1)
		if tc.ok {
			assert.NoError(t, err, "value %v", tc.value)
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidRequest, "value %v", tc.value)
		}
	}
}

func TestParamsRejectsUnsupportedValue(t *testing.T) {
	_, err := NewParams(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
