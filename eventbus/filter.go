// Package eventbus implements Emit (C7): matching a named event against every
// active event trigger and fanning out to procedure/pipeline Runs.
//
// Grounded on semantic/actionregistry.go's registry-of-handlers dispatch
// shape, generalised from "one handler per action type" to "every trigger
// whose event_name and filter match". emit() itself is synchronous; the
// Postgres NOTIFY sent afterward only wakes any listening dashboards, it
// doesn't carry the match logic.
package eventbus

import "strings"

// MatchFilter evaluates the closed filter DSL against a
// payload. A nil or empty filter always matches.
func MatchFilter(filter map[string]interface{}, payload map[string]interface{}) bool {
	for path, want := range filter {
		got, _ := lookupPath(payload, path)
		if !matchValue(got, want) {
			return false
		}
	}
	return true
}

func matchValue(got, want interface{}) bool {
	if op, ok := want.(map[string]interface{}); ok && isOperator(op) {
		return matchOperator(got, op)
	}
	return deepEqual(got, want)
}

func isOperator(m map[string]interface{}) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		return strings.HasPrefix(k, "$")
	}
	return false
}

func matchOperator(got interface{}, op map[string]interface{}) bool {
	for k, arg := range op {
		switch k {
		case "$contains":
			list, ok := got.([]interface{})
			if !ok {
				return false
			}
			for _, item := range list {
				if deepEqual(item, arg) {
					return true
				}
			}
			return false
		case "$in":
			list, ok := arg.([]interface{})
			if !ok {
				return false
			}
			for _, item := range list {
				if deepEqual(got, item) {
					return true
				}
			}
			return false
		case "$ne":
			return !deepEqual(got, arg)
		default:
			return false
		}
	}
	return false
}

// lookupPath resolves a dotted path against nested maps. A missing segment
// at any level compares as null.
func lookupPath(payload map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = payload
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// deepEqual compares JSON-shaped values (maps, slices, scalars) structurally.
func deepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case int:
			return av == float64(bv)
		}
		return false
	case int:
		switch bv := b.(type) {
		case float64:
			return float64(av) == bv
		case int:
			return av == bv
		}
		return false
	default:
		return a == b
	}
}
