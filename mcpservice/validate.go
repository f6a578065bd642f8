package mcpservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
)

var errNotObject = errors.New("arguments must be a JSON object")

// compiledParam is a Param whose default has been validated and stored in
// wire form, so every call decodes a fresh copy.
type compiledParam struct {
	Param
	defaultJSON json.RawMessage
}

func compileParam(p Param) (compiledParam, error) {
	cp := compiledParam{Param: p}
	if p.Name == "" {
		return cp, errors.New("parameter with empty name")
	}
	switch {
	case p.Type.scalar():
		if p.Items != "" {
			return cp, fmt.Errorf("%s: items type set on non-array parameter", p.Name)
		}
	case p.Type == TypeArray:
		if !p.Items.scalar() {
			return cp, fmt.Errorf("%s: unsupported array item type %q", p.Name, p.Items)
		}
	default:
		return cp, fmt.Errorf("%s: unsupported type %q", p.Name, p.Type)
	}
	elem := p.elemType()
	if len(p.Enum) > 0 && elem != TypeString {
		return cp, fmt.Errorf("%s: enum requires string values", p.Name)
	}
	if (p.Minimum != nil || p.Maximum != nil) && elem != TypeInteger && elem != TypeNumber {
		return cp, fmt.Errorf("%s: bounds require numeric values", p.Name)
	}
	if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
		return cp, fmt.Errorf("%s: minimum %g exceeds maximum %g", p.Name, *p.Minimum, *p.Maximum)
	}
	if p.Default != nil {
		if p.Required {
			return cp, fmt.Errorf("%s: required parameter cannot have a default", p.Name)
		}
		b, err := json.Marshal(p.Default)
		if err != nil {
			return cp, fmt.Errorf("%s: encode default: %w", p.Name, err)
		}
		if _, err := cp.decode(b); err != nil {
			return cp, fmt.Errorf("%s: invalid default: %w", p.Name, err)
		}
		cp.defaultJSON = b
	}
	return cp, nil
}

func (p *Param) elemType() ParamType {
	if p.Type == TypeArray {
		return p.Items
	}
	return p.Type
}

// parseArgs splits raw call arguments into their top-level members. Absent
// arguments are treated as an empty object.
func parseArgs(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]json.RawMessage{}, nil
	}
	if trimmed[0] != '{' {
		return nil, errNotObject
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("malformed arguments: %v", err)
	}
	return m, nil
}

// validateArgs checks members against params in declaration order and
// reports the first violation. Defaults are applied to absent optional
// parameters; explicit nulls count as absent.
func validateArgs(params []compiledParam, raw map[string]json.RawMessage) (Args, error) {
	args := make(Args, len(params))
	for i := range params {
		p := &params[i]
		v, present := raw[p.Name]
		if present && bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			present = false
		}
		if !present {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			if p.defaultJSON != nil {
				val, err := p.decode(p.defaultJSON)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", p.Name, err)
				}
				args[p.Name] = val
			}
			continue
		}
		val, err := p.decode(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		args[p.Name] = val
	}

	var unknown []string
	for k := range raw {
		if !slices.ContainsFunc(params, func(p compiledParam) bool { return p.Name == k }) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown parameter %q", unknown[0])
	}
	return args, nil
}

func (p *compiledParam) decode(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("malformed value: %v", err)
	}
	if p.Type != TypeArray {
		return p.checkScalar(p.Type, v)
	}

	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be an array of %s values", p.Items)
	}
	switch p.Items {
	case TypeString:
		return collect[string](p, items)
	case TypeInteger:
		return collect[int64](p, items)
	case TypeNumber:
		return collect[float64](p, items)
	default:
		return collect[bool](p, items)
	}
}

func collect[T any](p *compiledParam, items []any) ([]T, error) {
	out := make([]T, 0, len(items))
	for i, it := range items {
		v, err := p.checkScalar(p.Items, it)
		if err != nil {
			return nil, fmt.Errorf("item %d %w", i, err)
		}
		out = append(out, v.(T))
	}
	return out, nil
}

func (p *compiledParam) checkScalar(typ ParamType, v any) (any, error) {
	switch typ {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("must be a string")
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(p.Enum, ", "))
		}
		return s, nil
	case TypeInteger:
		n, ok := v.(json.Number)
		if !ok {
			return nil, errors.New("must be an integer")
		}
		i, err := toInt64(n)
		if err != nil {
			return nil, err
		}
		if err := p.checkBounds(float64(i)); err != nil {
			return nil, err
		}
		return i, nil
	case TypeNumber:
		n, ok := v.(json.Number)
		if !ok {
			return nil, errors.New("must be a number")
		}
		f, err := n.Float64()
		if err != nil {
			return nil, errors.New("must be a number")
		}
		if err := p.checkBounds(f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, errors.New("must be a boolean")
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported type %q", typ)
}

func toInt64(n json.Number) (int64, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return i, nil
	}
	// Accept integral floats such as 2.0 or 1e2.
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.New("must be an integer")
	}
	return int64(f), nil
}

func (p *compiledParam) checkBounds(f float64) error {
	if p.Minimum != nil && f < *p.Minimum {
		return fmt.Errorf("must be at least %g", *p.Minimum)
	}
	if p.Maximum != nil && f > *p.Maximum {
		return fmt.Errorf("must be at most %g", *p.Maximum)
	}
	return nil
}
