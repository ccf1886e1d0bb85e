package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashureev/jami-assistant/internal/memory"
	"github.com/ashureev/jami-assistant/internal/toolgateway"
)

// DefaultModelID is the Bedrock model used when Config.ModelID is empty.
const DefaultModelID = "global.anthropic.claude-haiku-4-5-20251001-v1:0"

// Config holds model settings.
type Config struct {
	ModelID     string
	Temperature float32
	MaxRounds   int
}

// DefaultConfig returns the default model settings.
func DefaultConfig() Config {
	return Config{
		ModelID:     DefaultModelID,
		Temperature: 0.2,
		MaxRounds:   8,
	}
}

// Factory creates agents.
type Factory struct {
	model  Model
	memory memory.Store
	cfg    Config
	prompt string
	logger *slog.Logger
}

// NewFactory creates a Factory. Zero config fields take their defaults.
func NewFactory(model Model, store memory.Store, cfg Config, logger *slog.Logger) *Factory {
	def := DefaultConfig()
	if cfg.ModelID == "" {
		cfg.ModelID = def.ModelID
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{model: model, memory: store, cfg: cfg, prompt: SystemPrompt(), logger: logger}
}

// Create builds an agent for actorID with a fresh conversation id. The
// scope must be open; the tools are listed from it. It returns the agent
// and its conversation id.
func (f *Factory) Create(ctx context.Context, scope *toolgateway.Scope, memoryID, region, actorID string) (*Agent, string, error) {
	if scope == nil {
		return nil, "", ErrScopeRequired
	}

	conversationID := uuid.NewString()
	binding := memory.NewBinding(memoryID, conversationID, actorID)

	tools, err := scope.ListTools(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrToolDiscovery, err)
	}
	if len(tools) == 0 {
		return nil, "", ErrNoTools
	}

	f.logger.Info("agent created",
		"actor_id", actorID,
		"conversation_id", conversationID,
		"memory_id", memoryID,
		"region", region,
		"tools", len(tools),
	)

	return &Agent{
		model:   f.model,
		memory:  f.memory,
		binding: binding,
		region:  region,
		cfg:     f.cfg,
		prompt:  f.prompt,
		tools:   tools,
		toolCfg: toolConfiguration(tools),
		logger:  f.logger,
	}, conversationID, nil
}
