package procedure

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	rt "flowcore.dev/procedure/runtime"
)

// templatePattern matches {{expression}} references, the procedure
// executor's template syntax — the same substitution idea as
// semantic/runtime/variables.go's ${...} pattern, rebound to {{...}} and to
// a Value-typed scope instead of a flat string-keyed map.
var templatePattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Scope is the evaluation environment for a step's params: params, prior
// steps.<name> results, and (inside foreach) item.
type Scope struct {
	Params rt.Value
	Steps  rt.Value
	Item   rt.Value
}

func newScope() Scope {
	return Scope{Params: rt.Map(nil), Steps: rt.Map(nil), Item: rt.Null()}
}

// resolve evaluates a single dotted reference (optionally wrapped in a safe
// builtin call) against the scope.
func (s Scope) resolve(expr string) (rt.Value, error) {
	expr = strings.TrimSpace(expr)

	if idx := strings.Index(expr, "("); idx > 0 && strings.HasSuffix(expr, ")") {
		fn := expr[:idx]
		arg := expr[idx+1 : len(expr)-1]
		switch fn {
		case "len", "str", "int", "bool":
			inner, err := s.resolve(arg)
			if err != nil {
				return rt.Null(), err
			}
			return applyBuiltin(fn, inner)
		}
	}

	root, rest, _ := strings.Cut(expr, ".")
	var base rt.Value
	switch root {
	case "params":
		base = s.Params
	case "item":
		base = s.Item
	case "steps":
		base = s.Steps
	default:
		return rt.Null(), fmt.Errorf("unknown reference root: %s", root)
	}
	if rest == "" {
		return base, nil
	}
	v, ok := base.Get(rest)
	if !ok {
		return rt.Null(), fmt.Errorf("field not found: %s", expr)
	}
	return v, nil
}

func applyBuiltin(fn string, v rt.Value) (rt.Value, error) {
	switch fn {
	case "len":
		switch v.Kind() {
		case rt.KindList:
			l, _ := v.AsList()
			return rt.Int(int64(len(l))), nil
		case rt.KindMap:
			m, _ := v.AsMap()
			return rt.Int(int64(len(m))), nil
		case rt.KindText:
			s, _ := v.AsString()
			return rt.Int(int64(len(s))), nil
		default:
			return rt.Int(0), nil
		}
	case "str":
		return rt.Text(v.String()), nil
	case "int":
		switch v.Kind() {
		case rt.KindInt, rt.KindFloat:
			i, _ := v.AsInt()
			return rt.Int(i), nil
		case rt.KindText:
			s, _ := v.AsString()
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return rt.Null(), fmt.Errorf("int(): cannot parse %q", s)
			}
			return rt.Int(n), nil
		default:
			return rt.Int(0), nil
		}
	case "bool":
		return rt.Bool(v.Truthy()), nil
	default:
		return rt.Null(), fmt.Errorf("unknown builtin: %s", fn)
	}
}

// Render walks a params Value and substitutes every {{expr}} template
// reference found in text leaves, mirroring
// semantic/runtime/variables.go's WalkJSON-driven SubstituteVariables, but
// operating on the tagged Value tree instead of map[string]interface{}.
func Render(params rt.Value, scope Scope) (rt.Value, error) {
	switch params.Kind() {
	case rt.KindText:
		s, _ := params.AsString()
		return renderString(s, scope)
	case rt.KindList:
		items, _ := params.AsList()
		out := make([]rt.Value, len(items))
		for i, it := range items {
			r, err := Render(it, scope)
			if err != nil {
				return rt.Null(), err
			}
			out[i] = r
		}
		return rt.List(out...), nil
	case rt.KindMap:
		m, _ := params.AsMap()
		out := make(map[string]rt.Value, len(m))
		for k, it := range m {
			r, err := Render(it, scope)
			if err != nil {
				return rt.Null(), err
			}
			out[k] = r
		}
		return rt.Map(out), nil
	default:
		return params, nil
	}
}

func renderString(s string, scope Scope) (rt.Value, error) {
	if !strings.Contains(s, "{{") {
		return rt.Text(s), nil
	}
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return rt.Text(s), nil
	}
	// A string that is *entirely* one template reference preserves the
	// resolved value's type (so {{params.count}} can yield an int, not "3").
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return scope.resolve(expr)
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		expr := s[m[2]:m[3]]
		v, err := scope.resolve(expr)
		if err != nil {
			return rt.Null(), err
		}
		b.WriteString(v.String())
		last = m[1]
	}
	b.WriteString(s[last:])
	return rt.Text(b.String()), nil
}
