package template

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// randomBetween returns a uniform integer in [min, max]. Handles the full
// int64 range without overflow.
func randomBetween(min, max int64) int64 {
	if min == max {
		return min
	}
	span := uint64(max) - uint64(min)
	var n uint64
	if span == math.MaxUint64 {
		n = rand.Uint64()
	} else {
		n = rand.Uint64N(span + 1)
	}
	return int64(uint64(min) + n)
}

// ParseMap parses every value of m as a template. Errors are joined and
// keyed by map key.
func ParseMap(m map[string]string) (map[string]*Template, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]*Template, len(m))
	var errs []error

	for k, v := range m {
		t, err := Parse(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("header %q: %w", k, err))
			continue
		}
		result[k] = t
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// RenderMap renders every template of m.
func RenderMap(m map[string]*Template, random bool) map[string]string {
	if m == nil {
		return nil
	}
	result := make(map[string]string, len(m))
	for k, t := range m {
		result[k] = t.Render(random)
	}
	return result
}
