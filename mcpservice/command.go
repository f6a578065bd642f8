package mcpservice

import (
	"context"
	"strings"
)

// ParamType is the primitive type of a command parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

func (t ParamType) scalar() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		return true
	}
	return false
}

// Param is the declarative constraint set for one named argument.
type Param struct {
	Name        string
	Description string
	Type        ParamType
	// Items is the element type when Type is TypeArray.
	Items    ParamType
	Required bool
	// Enum restricts string values (or string array elements).
	Enum []string
	// Minimum and Maximum bound numeric values (or numeric array elements).
	Minimum *float64
	Maximum *float64
	// Default is applied when an optional parameter is absent.
	Default any
	// Redact hides the value from boundary logs.
	Redact bool
}

// ParamOption mutates a parameter declaration.
type ParamOption func(*Param)

func Required() ParamOption { return func(p *Param) { p.Required = true } }

func Describe(desc string) ParamOption { return func(p *Param) { p.Description = desc } }

func Minimum(f float64) ParamOption { return func(p *Param) { p.Minimum = &f } }

func Maximum(f float64) ParamOption { return func(p *Param) { p.Maximum = &f } }

// Default sets the value used when the parameter is absent. Integer defaults
// may be given as any Go integer type.
func Default(v any) ParamOption { return func(p *Param) { p.Default = v } }

// Redacted keeps the value out of logs, which record only its size.
func Redacted() ParamOption { return func(p *Param) { p.Redact = true } }

func newParam(name string, typ ParamType, opts []ParamOption) Param {
	p := Param{Name: strings.TrimSpace(name), Type: typ}
	for _, o := range opts {
		if o != nil {
			o(&p)
		}
	}
	return p
}

// String declares a string parameter.
func String(name string, opts ...ParamOption) Param { return newParam(name, TypeString, opts) }

// Integer declares an integral numeric parameter.
func Integer(name string, opts ...ParamOption) Param { return newParam(name, TypeInteger, opts) }

// Number declares a floating point parameter.
func Number(name string, opts ...ParamOption) Param { return newParam(name, TypeNumber, opts) }

// Boolean declares a boolean parameter.
func Boolean(name string, opts ...ParamOption) Param { return newParam(name, TypeBoolean, opts) }

// Enum declares a string parameter restricted to values.
func Enum(name string, values []string, opts ...ParamOption) Param {
	p := newParam(name, TypeString, opts)
	p.Enum = append([]string(nil), values...)
	return p
}

// Array declares an array of items-typed primitives.
func Array(name string, items ParamType, opts ...ParamOption) Param {
	p := newParam(name, TypeArray, opts)
	p.Items = items
	return p
}

// Handler executes a command with validated, defaulted arguments. The result
// is serialized as JSON into the success envelope.
type Handler func(ctx context.Context, args Args) (any, error)

// Command describes one callable operation. Commands are immutable once
// registered.
type Command struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Args holds validated arguments keyed by parameter name. Scalars are stored
// as string, int64, float64 or bool; arrays as []string, []int64, []float64
// or []bool.
type Args map[string]any

// Has reports whether the argument was supplied or defaulted.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int64 {
	n, _ := a[name].(int64)
	return n
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Ints(name string) []int64 {
	v, _ := a[name].([]int64)
	return v
}

func (a Args) Strings(name string) []string {
	v, _ := a[name].([]string)
	return v
}
