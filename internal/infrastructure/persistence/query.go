package persistence

import (
	"slices"
	"strings"
	"time"
)

// compareValues orders two field values. ok is false when the values are
// not comparable (different kinds, or either is absent).
func compareValues(a, b any) (cmp int, ok bool) {
	if a == nil || b == nil {
		return 0, a == nil && b == nil
	}
	if da, isNum := numeric(a); isNum {
		db, isNum := numeric(b)
		if !isNum {
			return 0, false
		}
		return da.Cmp(db), true
	}
	if ta, isTime := asTime(a); isTime {
		if tb, isTime := asTime(b); isTime {
			return ta.Compare(tb), true
		}
	}
	switch av := a.(type) {
	case string:
		bv, isString := b.(string)
		if !isString {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// asTime accepts native times and RFC 3339 strings. Both sides of a
// comparison must parse for them to be ordered as times.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func matchesFilter(doc Document, f Filter) bool {
	value, present := doc[f.Field]
	if !present {
		return false
	}
	cmp, ok := compareValues(value, f.Value)
	switch f.Op {
	case OpEqual:
		return ok && cmp == 0
	case OpNotEqual:
		return !ok || cmp != 0
	case OpLess:
		return ok && cmp < 0
	case OpLessEqual:
		return ok && cmp <= 0
	case OpGreater:
		return ok && cmp > 0
	case OpGreaterEqual:
		return ok && cmp >= 0
	default:
		return false
	}
}

func matchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matchesFilter(doc, f) {
			return false
		}
	}
	return true
}

// applyQuery filters, orders and truncates snapshots in place.
// Documents lacking the order field sort after those that have it; ties are
// broken by document id so results are deterministic.
func applyQuery(snaps []Snapshot, q Query) []Snapshot {
	out := snaps[:0]
	for _, s := range snaps {
		if matchesAll(s.Data, q.Filters) {
			out = append(out, s)
		}
	}

	SortSnapshots(out, q.OrderBy, q.Direction)

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// SortSnapshots orders snapshots by a field. An empty field orders by id.
func SortSnapshots(snaps []Snapshot, field string, dir Direction) {
	slices.SortStableFunc(snaps, func(a, b Snapshot) int {
		if field != "" {
			av, aok := a.Data[field]
			bv, bok := b.Data[field]
			switch {
			case aok && !bok:
				return -1
			case !aok && bok:
				return 1
			case aok && bok:
				if cmp, ok := compareValues(av, bv); ok && cmp != 0 {
					if dir == Descending {
						return -cmp
					}
					return cmp
				}
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
}
