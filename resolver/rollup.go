package resolver

import (
	"strings"
	"time"

	"github.com/cbnsndwch/struktura/formula"
	"github.com/cbnsndwch/struktura/schema"
)

// Reduce folds the values of related records with a rollup function. Blank
// values are ignored except by count, which counts records. Over an empty
// set count and sum give 0, concat gives "" and avg, min and max are absent
// (nil).
func Reduce(fn schema.RollupFunction, values []any) any {
	switch fn {
	case schema.RollupCount:
		return float64(len(values))
	case schema.RollupSum:
		sum := 0.0
		for _, n := range numbers(values) {
			sum += n
		}
		return sum
	case schema.RollupAvg:
		ns := numbers(values)
		if len(ns) == 0 {
			return nil
		}
		sum := 0.0
		for _, n := range ns {
			sum += n
		}
		return sum / float64(len(ns))
	case schema.RollupMin:
		return extreme(values, -1)
	case schema.RollupMax:
		return extreme(values, 1)
	case schema.RollupConcat:
		var parts []string
		for _, v := range values {
			if s := formula.Format(v); strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return nil
}

func numbers(values []any) []float64 {
	var out []float64
	for _, v := range values {
		switch x := v.(type) {
		case float64:
			out = append(out, x)
		case int:
			out = append(out, float64(x))
		case int64:
			out = append(out, float64(x))
		}
	}
	return out
}

// extreme picks the smallest (sign -1) or largest (sign 1) value. Numbers
// win over dates; anything else is ignored.
func extreme(values []any, sign int) any {
	if ns := numbers(values); len(ns) > 0 {
		best := ns[0]
		for _, n := range ns[1:] {
			if (sign < 0 && n < best) || (sign > 0 && n > best) {
				best = n
			}
		}
		return best
	}
	var best time.Time
	for _, v := range values {
		t, ok := v.(time.Time)
		if !ok {
			continue
		}
		if best.IsZero() || (sign < 0 && t.Before(best)) || (sign > 0 && t.After(best)) {
			best = t
		}
	}
	if best.IsZero() {
		return nil
	}
	return best
}
