package agent

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ashureev/jami-assistant/internal/toolgateway"
)

// Model is the Bedrock Converse API.
type Model interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

const emptyToolResult = "(sin resultados)"

func toolConfiguration(tools []toolgateway.Tool) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(t.InputSchema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

func systemBlocks(prompt, memoryContext string) []types.SystemContentBlock {
	blocks := []types.SystemContentBlock{
		&types.SystemContentBlockMemberText{Value: prompt},
	}
	if memoryContext != "" {
		blocks = append(blocks, &types.SystemContentBlockMemberText{Value: memoryContext})
	}
	return blocks
}

func textBlock(s string) types.ContentBlock {
	return &types.ContentBlockMemberText{Value: s}
}

func toolResultBlock(r ToolResult) types.ContentBlock {
	text := r.Text
	if text == "" {
		text = emptyToolResult
	}
	status := types.ToolResultStatusSuccess
	if r.IsError {
		status = types.ToolResultStatusError
	}
	return &types.ContentBlockMemberToolResult{
		Value: types.ToolResultBlock{
			ToolUseId: aws.String(r.ToolUseID),
			Content: []types.ToolResultContentBlock{
				&types.ToolResultContentBlockMemberText{Value: text},
			},
			Status: status,
		},
	}
}

func toolArgs(use types.ToolUseBlock) (map[string]any, error) {
	args := map[string]any{}
	if use.Input == nil {
		return args, nil
	}
	if err := use.Input.UnmarshalSmithyDocument(&args); err != nil {
		return nil, fmt.Errorf("decode input of tool %s: %w", aws.ToString(use.Name), err)
	}
	return args, nil
}

// appendUser adds blocks as a user message, merging into a trailing user
// message so roles keep alternating.
func appendUser(history []types.Message, blocks ...types.ContentBlock) []types.Message {
	if n := len(history); n > 0 && history[n-1].Role == types.ConversationRoleUser {
		last := history[n-1]
		content := make([]types.ContentBlock, 0, len(last.Content)+len(blocks))
		content = append(content, last.Content...)
		content = append(content, blocks...)
		history[n-1] = types.Message{Role: types.ConversationRoleUser, Content: content}
		return history
	}
	return append(history, types.Message{Role: types.ConversationRoleUser, Content: blocks})
}
