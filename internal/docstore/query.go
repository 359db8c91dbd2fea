package docstore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// apply filters, orders and limits records in memory. Documents are opaque
// JSON blobs in every backend, so matching happens after decode rather
// than in driver-specific JSON SQL.
func (q Query) apply(in []Record) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := compareValues(out[i].Data[o.Field], out[j].Data[o.Field])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (q Query) matches(r Record) bool {
	for _, f := range q.Filters {
		v, ok := r.Data[f.Field]
		if f.Field == "id" {
			v, ok = r.ID, true
		}
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

// compareValues orders nil last, numbers numerically, RFC 3339 strings
// chronologically and other strings lexically.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
