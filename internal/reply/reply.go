// Package reply turns an agent response of loosely known shape into the
// best-effort text shown to the user.
package reply

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// Apology is returned when no text could be recovered.
	Apology = "Lo siento, no pude procesar la respuesta. Por favor intenta de nuevo."

	// rawFallbackMinLen is the length the raw form must exceed to be shown as is.
	rawFallbackMinLen = 50
)

// Part is one variant of a response.
type Part interface {
	isPart()
}

// PlainText is a response that already is text.
type PlainText struct {
	Text string
}

// StructuredMessage holds the text fragments of the assistant message.
type StructuredMessage struct {
	Fragments []string
}

// ToolResult holds text fragments produced by tools.
type ToolResult struct {
	Fragments []string
}

// StructuredOutput holds a typed output the agent produced instead of text.
type StructuredOutput struct {
	Value any
}

// Unrecognized holds the stringified form of the whole response.
type Unrecognized struct {
	Raw string
}

func (PlainText) isPart()         {}
func (StructuredMessage) isPart() {}
func (ToolResult) isPart()        {}
func (StructuredOutput) isPart()  {}
func (Unrecognized) isPart()      {}

// Response is an ordered list of parts.
type Response []Part

// Replier is implemented by values that know their own reply shape.
type Replier interface {
	Reply() Response
}

// Text extracts the reply text from resp. It never panics.
//
// A PlainText part is returned unchanged. Otherwise message fragments and
// tool fragments are joined with newlines; a structured output stands in
// when there are no fragments. Failing that, a raw form longer than 50
// characters is returned, and finally the apology.
func Text(resp Response) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fmt.Sprintf("Error extrayendo respuesta: %v", r)
		}
	}()

	var (
		fragments []string
		output    *StructuredOutput
		raw       string
	)
	for _, p := range resp {
		switch v := p.(type) {
		case PlainText:
			return v.Text
		case StructuredMessage:
			fragments = appendNonEmpty(fragments, v.Fragments)
		case ToolResult:
			fragments = appendNonEmpty(fragments, v.Fragments)
		case StructuredOutput:
			if output == nil && !isEmptyValue(v.Value) {
				output = &v
			}
		case Unrecognized:
			raw = v.Raw
		}
	}

	if len(fragments) == 0 && output != nil {
		fragments = append(fragments, stringify(output.Value))
	}
	if len(fragments) > 0 {
		return strings.Join(fragments, "\n")
	}
	if utf8.RuneCountInString(raw) > rawFallbackMinLen {
		return raw
	}
	return Apology
}

func appendNonEmpty(dst, src []string) []string {
	for _, s := range src {
		if s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	}
	return false
}
