package reply

import (
	"strings"
	"testing"
)

type stubReplier struct {
	parts Response
	raw   string
}

func (s stubReplier) Reply() Response { return s.parts }
func (s stubReplier) String() string  { return s.raw }

type valueReplier struct{}

func (valueReplier) Reply() Response { return Response{StructuredMessage{Fragments: []string{"x"}}} }

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{
			name: "plain string",
			in:   "hello",
			want: "hello",
		},
		{
			name: "empty plain string is returned unchanged",
			in:   "",
			want: "",
		},
		{
			name: "structured message",
			in: map[string]any{
				"message": map[string]any{"content": []any{
					map[string]any{"text": "A"},
					map[string]any{"text": "B"},
				}},
			},
			want: "A\nB",
		},
		{
			name: "tool results complement message",
			in: map[string]any{
				"message":      map[string]any{"content": []any{map[string]any{"text": "A"}}},
				"tool_results": []any{map[string]any{"result": "B"}},
			},
			want: "A\nB",
		},
		{
			name: "message content as string",
			in:   map[string]any{"message": map[string]any{"content": "solo texto"}},
			want: "solo texto",
		},
		{
			name: "message as string",
			in:   map[string]any{"message": "directo"},
			want: "directo",
		},
		{
			name: "mixed content items",
			in: map[string]any{"message": map[string]any{"content": []any{
				"uno",
				map[string]any{"toolUse": map[string]any{"name": "x"}},
				map[string]any{"text": "dos"},
			}}},
			want: "uno\ndos",
		},
		{
			name: "nested result prefers content then text",
			in: map[string]any{"tool_results": []any{
				map[string]any{"result": map[string]any{"content": "C", "text": "T"}},
				map[string]any{"result": map[string]any{"text": "T2"}},
				map[string]any{"content": "direct"},
				map[string]any{"text": "direct-text"},
				"  plain  ",
				"   ",
				map[string]any{"result": "   "},
			}},
			want: "C\nT2\ndirect\ndirect-text\n  plain  ",
		},
		{
			name: "nested result without known keys is stringified",
			in:   map[string]any{"tool_results": []any{map[string]any{"result": map[string]any{"price": 10}}}},
			want: `{"price":10}`,
		},
		{
			name: "structured output used only without fragments",
			in:   map[string]any{"structured_output": "salida"},
			want: "salida",
		},
		{
			name: "structured output ignored when message exists",
			in: map[string]any{
				"message":           "texto",
				"structured_output": map[string]any{"k": "v"},
			},
			want: "texto",
		},
		{
			name: "structured output map",
			in:   map[string]any{"structured_output": map[string]any{"k": "v"}},
			want: `{"k":"v"}`,
		},
		{
			name: "short unrecognized returns apology",
			in:   map[string]any{"foo": 1},
			want: Apology,
		},
		{
			name: "nil returns apology",
			in:   nil,
			want: Apology,
		},
		{
			name: "short integer returns apology",
			in:   42,
			want: Apology,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(Adapt(tt.in)); got != tt.want {
				t.Fatalf("Text(Adapt(%v)) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextLongUnrecognizedIsReturned(t *testing.T) {
	long := map[string]any{"unexpected": strings.Repeat("x", 60)}
	got := Text(Adapt(long))
	if !strings.Contains(got, strings.Repeat("x", 60)) {
		t.Fatalf("expected raw form, got %q", got)
	}
}

func TestTextFromStruct(t *testing.T) {
	type message struct {
		Content []map[string]string `json:"content"`
	}
	type response struct {
		Message     message  `json:"message"`
		ToolResults []string `json:"tool_results"`
	}
	in := response{
		Message:     message{Content: []map[string]string{{"text": "Hola"}}},
		ToolResults: []string{"Sofá Milano"},
	}
	if got := Text(Adapt(in)); got != "Hola\nSofá Milano" {
		t.Fatalf("got %q", got)
	}
}

func TestTextFromReplier(t *testing.T) {
	r := stubReplier{parts: Response{
		StructuredMessage{Fragments: []string{"A", ""}},
		ToolResult{Fragments: []string{"B"}},
	}}
	if got := Text(Adapt(r)); got != "A\nB" {
		t.Fatalf("got %q", got)
	}

	empty := stubReplier{raw: "short"}
	if got := Text(Adapt(empty)); got != Apology {
		t.Fatalf("got %q, want apology", got)
	}

	if got := Text(Adapt(valueReplier{})); got != "x" {
		t.Fatalf("got %q", got)
	}
}

func TestTextRecoversFromPanic(t *testing.T) {
	got := Text(Response{StructuredOutput{Value: explodingStringer{}}})
	if !strings.HasPrefix(got, "Error extrayendo respuesta: ") {
		t.Fatalf("got %q", got)
	}
}

type explodingStringer struct{}

func (explodingStringer) String() string { panic("boom") }

type explodingMarshaler struct{}

func (explodingMarshaler) MarshalJSON() ([]byte, error) { panic("marshal boom") }

type explodingReplier struct{}

func (explodingReplier) Reply() Response { panic("reply boom") }

func TestAdaptRecoversFromPanic(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"stringer", explodingStringer{}, "boom"},
		{"marshaler", explodingMarshaler{}, "marshal boom"},
		{"replier", explodingReplier{}, "reply boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Adapt(tt.in)
			if _, ok := resp[len(resp)-1].(Unrecognized); !ok {
				t.Fatalf("last part = %T, want Unrecognized", resp[len(resp)-1])
			}
			got := Text(resp)
			if !strings.HasPrefix(got, "Error extrayendo respuesta: ") || !strings.Contains(got, tt.want) {
				t.Fatalf("Text(Adapt(%T)) = %q", tt.in, got)
			}
		})
	}
}

func TestTextFromUntaggedStruct(t *testing.T) {
	type message struct {
		Content string
	}
	type response struct {
		Message     message
		ToolResults []string
	}
	in := response{Message: message{Content: "Hola"}, ToolResults: []string{"Sofá Milano"}}
	if got := Text(Adapt(in)); got != "Hola\nSofá Milano" {
		t.Fatalf("got %q", got)
	}
}

func TestAdaptAlwaysEndsWithUnrecognized(t *testing.T) {
	for _, in := range []any{"s", nil, 3, map[string]any{"message": "m"}, stubReplier{raw: "r"}} {
		resp := Adapt(in)
		if _, ok := resp[len(resp)-1].(Unrecognized); !ok {
			t.Fatalf("Adapt(%v) last part = %T", in, resp[len(resp)-1])
		}
	}
}

func TestToolEventText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "resultado", "resultado"},
		{"content first", map[string]any{"content": "c", "text": "t", "result": "r"}, "c"},
		{"text second", map[string]any{"text": "t", "result": "r"}, "t"},
		{"result third", map[string]any{"result": "r"}, "r"},
		{"non-string result", map[string]any{"result": []any{1, 2}}, "[1,2]"},
		{"unknown map", map[string]any{"x": 1}, `{"x":1}`},
		{"number", 7, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToolEventText(tt.in); got != tt.want {
				t.Fatalf("ToolEventText(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
