package mcpservice

import (
	"encoding/json"
	"fmt"
)

// redactArgs builds the log view of validated arguments.
func redactArgs(params []compiledParam, args Args) map[string]any {
	view := make(map[string]any, len(args))
	for i := range params {
		p := &params[i]
		v, ok := args[p.Name]
		if !ok {
			continue
		}
		if p.Redact {
			view[p.Name] = redacted(v)
			continue
		}
		view[p.Name] = v
	}
	return view
}

// redactRaw builds the log view of arguments that failed validation. Unknown
// members are listed by size only.
func redactRaw(params []compiledParam, raw map[string]json.RawMessage) map[string]any {
	view := make(map[string]any, len(raw))
	for k, v := range raw {
		view[k] = fmt.Sprintf("<redacted %d bytes>", len(v))
	}
	for i := range params {
		p := &params[i]
		if v, ok := raw[p.Name]; ok && !p.Redact {
			view[p.Name] = json.RawMessage(v)
		}
	}
	return view
}

func redacted(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("<redacted %d bytes>", len(x))
	default:
		b, _ := json.Marshal(x)
		return fmt.Sprintf("<redacted %d bytes>", len(b))
	}
}
