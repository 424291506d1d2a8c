package provider

import (
	"math"
	"strconv"
	"strings"

	"onchain-collector/internal/domain"

	"github.com/tidwall/gjson"
)

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// number reads a JSON number or numeric string.
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, finite(r.Num)
	case gjson.String:
		return parseFloatString(r.Str)
	}
	return 0, false
}

func parseFloatString(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || !finite(n) {
		return 0, false
	}
	return n, true
}

// candidates accumulates field values read from one payload.
type candidates []domain.FieldCandidate

func (c *candidates) add(field domain.Field, v float64) {
	*c = append(*c, domain.FieldCandidate{Field: field, Value: v})
}

// addPositive adds the value at r, expressed in units of unit. Zero and
// negative values mean "not reported" and are skipped.
func (c *candidates) addPositive(field domain.Field, r gjson.Result, unit float64) bool {
	v, ok := number(r)
	if !ok || v <= 0 || unit == 0 {
		return false
	}
	c.add(field, v/unit)
	return true
}
