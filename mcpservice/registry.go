package mcpservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggoodman/mcp-wordpress-gateway/mcp"
	"github.com/invopop/jsonschema"
)

// ErrUnknownCommand is reported when a call names no registered command.
var ErrUnknownCommand = errors.New("unknown command")

type registeredCommand struct {
	name        string
	description string
	params      []compiledParam
	handler     Handler
}

// Registry is the immutable set of commands exposed by the gateway. It is
// populated once by NewRegistry and safe for concurrent reads afterwards.
type Registry struct {
	order    []string
	commands map[string]*registeredCommand
}

// NewRegistry validates and registers cmds. It rejects empty or duplicate
// command names, duplicate parameter names, malformed constraints and
// defaults that fail their own constraints.
func NewRegistry(cmds ...Command) (*Registry, error) {
	r := &Registry{commands: make(map[string]*registeredCommand, len(cmds))}
	for _, c := range cmds {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, errors.New("mcpservice: command with empty name")
		}
		if _, dup := r.commands[name]; dup {
			return nil, fmt.Errorf("mcpservice: duplicate command %q", name)
		}
		if c.Handler == nil {
			return nil, fmt.Errorf("mcpservice: command %q has no handler", name)
		}
		rc := &registeredCommand{name: name, description: c.Description, handler: c.Handler}
		seen := make(map[string]struct{}, len(c.Params))
		for _, p := range c.Params {
			cp, err := compileParam(p)
			if err != nil {
				return nil, fmt.Errorf("mcpservice: command %q: %w", name, err)
			}
			if _, dup := seen[cp.Name]; dup {
				return nil, fmt.Errorf("mcpservice: command %q: duplicate parameter %q", name, cp.Name)
			}
			seen[cp.Name] = struct{}{}
			// Private copy so later mutation of the caller's slices has no effect.
			cp.Enum = append([]string(nil), cp.Enum...)
			rc.params = append(rc.params, cp)
		}
		r.commands[name] = rc
		r.order = append(r.order, name)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry(cmds ...Command) *Registry {
	r, err := NewRegistry(cmds...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) lookup(name string) (*registeredCommand, bool) {
	c, ok := r.commands[name]
	return c, ok
}

// Names returns the registered command names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.order) }

// Tools renders the registry as MCP tool descriptors in registration order.
func (r *Registry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		c := r.commands[name]
		out = append(out, mcp.Tool{
			Name:        c.name,
			Description: c.description,
			InputSchema: inputSchema(c.params),
		})
	}
	return out
}

func inputSchema(params []compiledParam) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
	for i := range params {
		p := &params[i]
		prop := scalarSchema(p, p.elemType())
		if p.Type == TypeArray {
			prop = &jsonschema.Schema{Type: string(TypeArray), Items: prop}
		}
		prop.Description = p.Description
		if p.defaultJSON != nil {
			var def any
			if err := json.Unmarshal(p.defaultJSON, &def); err == nil {
				prop.Default = def
			}
		}
		s.Properties.Set(p.Name, prop)
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

func scalarSchema(p *compiledParam, typ ParamType) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: string(typ)}
	for _, v := range p.Enum {
		s.Enum = append(s.Enum, v)
	}
	if p.Minimum != nil {
		s.Minimum = json.Number(strconv.FormatFloat(*p.Minimum, 'f', -1, 64))
	}
	if p.Maximum != nil {
		s.Maximum = json.Number(strconv.FormatFloat(*p.Maximum, 'f', -1, 64))
	}
	return s
}
