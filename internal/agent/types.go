// Package agent runs the Jami sales agent: a Bedrock model driving remote
// gateway tools, with long-term memory bound to the actor.
package agent

import (
	"errors"
	"strings"

	"github.com/ashureev/jami-assistant/internal/reply"
)

var (
	// ErrNoTools is returned when the gateway exposes no tools.
	ErrNoTools = errors.New("no tools available from the tool gateway")

	// ErrToolDiscovery wraps failures while listing gateway tools.
	ErrToolDiscovery = errors.New("tool discovery failed")

	// ErrScopeRequired is returned when no open gateway scope is supplied.
	ErrScopeRequired = errors.New("an open tool gateway scope is required")

	// ErrNoModelOutput is returned when the model response carries no message.
	ErrNoModelOutput = errors.New("model returned no message")
)

// Event is one item of the agent event stream.
type Event interface {
	isEvent()
}

// TextChunk is assistant text as it is produced.
type TextChunk struct {
	Text string
}

// ToolStarted is emitted before a tool is invoked.
type ToolStarted struct {
	ID   string
	Name string
}

// ToolFinished is emitted after a tool returns.
type ToolFinished struct {
	ID      string
	Name    string
	Result  string
	IsError bool
}

// Completed is the last event of a successful run.
type Completed struct {
	Result *Result
}

func (TextChunk) isEvent()    {}
func (ToolStarted) isEvent()  {}
func (ToolFinished) isEvent() {}
func (Completed) isEvent()    {}

// ToolResult is a tool output.
type ToolResult struct {
	ToolUseID string
	Name      string
	Text      string
	IsError   bool
}

// Result is the outcome of one run.
type Result struct {
	ConversationID string
	StopReason     string
	Rounds         int
	// Message holds the text blocks of the final assistant message.
	Message []string
	// ToolResults holds tool outputs the model never consumed, which only
	// happens when the round limit is reached.
	ToolResults []ToolResult
}

// Reply implements reply.Replier.
func (r *Result) Reply() reply.Response {
	var resp reply.Response
	if len(r.Message) > 0 {
		resp = append(resp, reply.StructuredMessage{Fragments: r.Message})
	}
	if len(r.ToolResults) > 0 {
		frags := make([]string, 0, len(r.ToolResults))
		for _, tr := range r.ToolResults {
			if strings.TrimSpace(tr.Text) != "" {
				frags = append(frags, tr.Text)
			}
		}
		resp = append(resp, reply.ToolResult{Fragments: frags})
	}
	return resp
}

// String returns the assistant text of the result.
func (r *Result) String() string {
	return strings.Join(r.Message, "")
}
