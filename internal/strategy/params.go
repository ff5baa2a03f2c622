package strategy

import (
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"macrostrat/internal/domain"
)

// Params is a normalised, read-only strategy parameter set. Numbers are
// float64 regardless of whether they came from JSON, YAML, or Go literals.
type Params struct {
	values map[string]any
}

// NewParams normalises raw through a protobuf Struct so every number is a
// float64 and nested values are plain maps and slices.
func NewParams(raw map[string]any) (Params, error) {
	if len(raw) == 0 {
		return Params{values: map[string]any{}}, nil
	}
	s, err := structpb.NewStruct(raw)
	if err != nil {
		return Params{}, domain.Invalidf("strategy parameters: %v", err)
	}
	return Params{values: s.AsMap()}, nil
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Float returns key as a float64, or def when unset.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, domain.Invalidf("parameter %s must be a number, got %v", key, v)
	}
	return f, nil
}

// Int returns key as an int, or def when unset. Fractional values are
// rejected.
func (p Params) Int(key string, def int) (int, error) {
	if !p.Has(key) {
		return def, nil
	}
	f, err := p.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, domain.Invalidf("parameter %s must be an integer, got %v", key, f)
	}
	return int(f), nil
}

// String returns key as a string, or def when unset.
func (p Params) String(key string, def string) (string, error) {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.Invalidf("parameter %s must be a string, got %v", key, v)
	}
	return s, nil
}

// Bool returns key as a bool, or def when unset.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, domain.Invalidf("parameter %s must be a boolean, got %v", key, v)
	}
	return b, nil
}

// Allocation returns key as a fraction in (0, 1], or def when unset.
func (p Params) Allocation(key string, def float64) (float64, error) {
	f, err := p.Float(key, def)
	if err != nil {
		return 0, err
	}
	if f <= 0 || f > 1 {
		return 0, domain.Invalidf("parameter %s must be in (0, 1], got %v", key, f)
	}
	return f, nil
}
