package reply

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Adapt converts an agent response into a Response. It accepts a string,
// a Replier, a decoded JSON object or any value that encodes to one. Object
// keys are matched case-insensitively, so untagged structs probe the same
// way as their JSON form. The result always ends with the Unrecognized raw
// form of v. It never panics; a panic while probing v yields a Response
// holding only the error text.
func Adapt(v any) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{PlainText{Text: fmt.Sprintf("Error extrayendo respuesta: %v", r)}, Unrecognized{}}
		}
	}()

	switch t := v.(type) {
	case string:
		resp = append(resp, PlainText{Text: t})
	case Replier:
		resp = append(resp, t.Reply()...)
	case map[string]any:
		resp = append(resp, probe(t)...)
	case nil:
	default:
		if m, ok := asObject(v); ok {
			resp = append(resp, probe(m)...)
		}
	}

	return append(resp, Unrecognized{Raw: rawForm(v)})
}

// probe reads the message, tool_results and structured_output fields.
func probe(m map[string]any) Response {
	var resp Response

	msg, _ := field(m, "message")
	if frags := messageFragments(msg); len(frags) > 0 {
		resp = append(resp, StructuredMessage{Fragments: frags})
	}
	results, _ := field(m, "tool_results", "ToolResults")
	if frags := toolResultFragments(results); len(frags) > 0 {
		resp = append(resp, ToolResult{Fragments: frags})
	}
	output, _ := field(m, "structured_output", "StructuredOutput")
	switch so := output.(type) {
	case string:
		if so != "" {
			resp = append(resp, StructuredOutput{Value: so})
		}
	case map[string]any:
		if len(so) > 0 {
			resp = append(resp, StructuredOutput{Value: so})
		}
	}
	return resp
}

func messageFragments(msg any) []string {
	switch t := msg.(type) {
	case string:
		return []string{t}
	case map[string]any:
		content, _ := field(t, "content")
		return contentFragments(content)
	}
	return nil
}

func contentFragments(content any) []string {
	switch t := content.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if text, ok := field(it, "text"); ok {
					out = append(out, stringify(text))
				}
			}
		}
		return out
	}
	return nil
}

func toolResultFragments(v any) []string {
	entries, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []string
	for _, entry := range entries {
		switch e := entry.(type) {
		case string:
			if strings.TrimSpace(e) != "" {
				out = append(out, e)
			}
		case map[string]any:
			if result, ok := field(e, "result"); ok {
				switch r := result.(type) {
				case string:
					if strings.TrimSpace(r) != "" {
						out = append(out, r)
					}
				case map[string]any:
					out = append(out, firstField(r, "content", "text"))
				}
				continue
			}
			if c, ok := field(e, "content"); ok {
				out = append(out, stringify(c))
			} else if text, ok := field(e, "text"); ok {
				out = append(out, stringify(text))
			}
		}
	}
	return out
}

// firstField returns the first present key of m stringified, or m itself.
func firstField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := field(m, k); ok {
			return stringify(v)
		}
	}
	return stringify(m)
}

// field returns the value of the first of keys present in m. An exact
// match wins over a case-insensitive one.
func field(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	for _, k := range keys {
		for mk, v := range m {
			if strings.EqualFold(mk, k) {
				return v, true
			}
		}
	}
	return nil, false
}

// ToolEventText flattens a streamed tool result payload into text.
func ToolEventText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return firstField(t, "content", "text", "result")
	}
	return stringify(v)
}

// asObject encodes v as JSON and decodes it back as an object.
func asObject(v any) (map[string]any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func rawForm(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	case map[string]any:
		return stringify(t)
	}
	return fmt.Sprintf("%+v", v)
}
