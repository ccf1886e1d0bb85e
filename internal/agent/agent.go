package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ashureev/jami-assistant/internal/memory"
	"github.com/ashureev/jami-assistant/internal/toolgateway"
)

// Agent is one conversation with the sales agent. It keeps the model
// history across turns; Run calls are serialized.
type Agent struct {
	model   Model
	memory  memory.Store
	binding memory.Binding
	region  string
	cfg     Config
	prompt  string
	tools   []toolgateway.Tool
	toolCfg *types.ToolConfiguration
	logger  *slog.Logger

	mu      sync.Mutex
	history []types.Message
}

// ConversationID returns the id of the conversation this agent serves.
func (a *Agent) ConversationID() string { return a.binding.ConversationID }

// Binding returns the memory binding of the agent.
func (a *Agent) Binding() memory.Binding { return a.binding }

// Region returns the region the agent was created for.
func (a *Agent) Region() string { return a.region }

// Tools returns the names of the tools registered with the agent.
func (a *Agent) Tools() []string {
	names := make([]string, len(a.tools))
	for i, t := range a.tools {
		names[i] = t.Name
	}
	return names
}

// Run answers prompt. Tool calls go through scope, which must stay open
// until the returned sequence is exhausted. The last event of a
// successful run is Completed; a failed run yields one error and stops.
func (a *Agent) Run(ctx context.Context, scope *toolgateway.Scope, prompt string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if scope == nil {
			yield(nil, ErrScopeRequired)
			return
		}

		a.mu.Lock()
		defer a.mu.Unlock()

		logger := a.logger.With("actor_id", a.binding.ActorID, "conversation_id", a.binding.ConversationID)

		records, err := a.binding.Recall(ctx, a.memory, prompt)
		if err != nil {
			logger.Warn("memory recall failed", "error", err)
		}

		history := appendUser(slices.Clone(a.history), textBlock(prompt))
		result := &Result{ConversationID: a.binding.ConversationID}

		for result.Rounds < a.cfg.MaxRounds {
			result.Rounds++

			out, err := a.model.Converse(ctx, &bedrockruntime.ConverseInput{
				ModelId:         aws.String(a.cfg.ModelID),
				Messages:        history,
				System:          systemBlocks(a.prompt, memory.FormatContext(records)),
				InferenceConfig: &types.InferenceConfiguration{Temperature: aws.Float32(a.cfg.Temperature)},
				ToolConfig:      a.toolCfg,
			})
			if err != nil {
				yield(nil, fmt.Errorf("converse: %w", err))
				return
			}
			msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
			if !ok {
				yield(nil, ErrNoModelOutput)
				return
			}
			history = append(history, msg.Value)
			result.StopReason = string(out.StopReason)
			result.Message = result.Message[:0]

			var pending []ToolResult
			for _, block := range msg.Value.Content {
				switch b := block.(type) {
				case *types.ContentBlockMemberText:
					result.Message = append(result.Message, b.Value)
					if !yield(TextChunk{Text: b.Value}, nil) {
						return
					}
				case *types.ContentBlockMemberToolUse:
					tr, err := a.callTool(ctx, scope, b.Value, yield)
					if err != nil {
						yield(nil, err)
						return
					}
					if tr == nil {
						return
					}
					pending = append(pending, *tr)
				}
			}

			if out.StopReason != types.StopReasonToolUse || len(pending) == 0 {
				result.ToolResults = nil
				break
			}

			blocks := make([]types.ContentBlock, len(pending))
			for i, tr := range pending {
				blocks[i] = toolResultBlock(tr)
			}
			history = appendUser(history, blocks...)
			result.ToolResults = pending
		}

		if len(result.ToolResults) > 0 {
			logger.Warn("round limit reached with unconsumed tool results",
				"rounds", result.Rounds, "tool_results", len(result.ToolResults))
		}

		a.history = history

		if err := a.binding.Remember(ctx, a.memory, prompt, strings.Join(result.Message, "")); err != nil {
			logger.Warn("failed to append conversation to memory", "error", err)
		}

		yield(Completed{Result: result}, nil)
	}
}

// callTool runs one tool use and emits its start and finish events.
// It returns nil, nil when the consumer stopped the stream.
func (a *Agent) callTool(ctx context.Context, scope *toolgateway.Scope, use types.ToolUseBlock, yield func(Event, error) bool) (*ToolResult, error) {
	name := aws.ToString(use.Name)
	id := aws.ToString(use.ToolUseId)

	if !yield(ToolStarted{ID: id, Name: name}, nil) {
		return nil, nil
	}

	tr := &ToolResult{ToolUseID: id, Name: name}
	args, err := toolArgs(use)
	if err != nil {
		tr.Text, tr.IsError = err.Error(), true
	} else {
		out, err := scope.CallTool(ctx, name, args)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			a.logger.Warn("tool call failed", "tool", name, "error", err)
			tr.Text, tr.IsError = err.Error(), true
		default:
			tr.Text, tr.IsError = out.Text, out.IsError
		}
	}

	if !yield(ToolFinished{ID: id, Name: name, Result: tr.Text, IsError: tr.IsError}, nil) {
		return nil, nil
	}
	return tr, nil
}
