package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	datatypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentcore/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol"
	controltypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol/types"
)

// DataAPI is the subset of the AgentCore data plane used here.
type DataAPI interface {
	RetrieveMemoryRecords(ctx context.Context, in *bedrockagentcore.RetrieveMemoryRecordsInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.RetrieveMemoryRecordsOutput, error)
	CreateEvent(ctx context.Context, in *bedrockagentcore.CreateEventInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.CreateEventOutput, error)
}

// ControlAPI is the subset of the AgentCore control plane used here.
type ControlAPI interface {
	ListMemories(ctx context.Context, in *bedrockagentcorecontrol.ListMemoriesInput, optFns ...func(*bedrockagentcorecontrol.Options)) (*bedrockagentcorecontrol.ListMemoriesOutput, error)
	CreateMemory(ctx context.Context, in *bedrockagentcorecontrol.CreateMemoryInput, optFns ...func(*bedrockagentcorecontrol.Options)) (*bedrockagentcorecontrol.CreateMemoryOutput, error)
	GetMemory(ctx context.Context, in *bedrockagentcorecontrol.GetMemoryInput, optFns ...func(*bedrockagentcorecontrol.Options)) (*bedrockagentcorecontrol.GetMemoryOutput, error)
}

// ErrMemoryFailed is returned when a created memory ends in FAILED status.
var ErrMemoryFailed = errors.New("memory resource failed to activate")

const (
	eventExpiryDays = 90
	pollInterval    = 5 * time.Second
)

// AgentCore implements Store on Bedrock AgentCore Memory.
type AgentCore struct {
	data    DataAPI
	control ControlAPI
	logger  *slog.Logger

	pollInterval time.Duration
}

// NewAgentCore creates the memory adapter.
func NewAgentCore(data DataAPI, control ControlAPI, logger *slog.Logger) *AgentCore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentCore{data: data, control: control, logger: logger, pollInterval: pollInterval}
}

// Retrieve runs a semantic search in one namespace.
func (a *AgentCore) Retrieve(ctx context.Context, memoryID, namespace, query string, topK int) ([]Record, error) {
	out, err := a.data.RetrieveMemoryRecords(ctx, &bedrockagentcore.RetrieveMemoryRecordsInput{
		MemoryId:  aws.String(memoryID),
		Namespace: aws.String(namespace),
		SearchCriteria: &datatypes.SearchCriteria{
			SearchQuery: aws.String(query),
			TopK:        aws.Int32(int32(topK)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve memory records: %w", err)
	}

	records := make([]Record, 0, len(out.MemoryRecordSummaries))
	for _, s := range out.MemoryRecordSummaries {
		text, ok := s.Content.(*datatypes.MemoryContentMemberText)
		if !ok {
			continue
		}
		records = append(records, Record{Text: text.Value, Score: aws.ToFloat64(s.Score)})
	}
	return records, nil
}

// AppendEvents stores conversational turns as one event.
func (a *AgentCore) AppendEvents(ctx context.Context, memoryID, actorID, sessionID string, turns []Turn) error {
	payload := make([]datatypes.PayloadType, 0, len(turns))
	for _, t := range turns {
		role := datatypes.RoleUser
		if t.Role == RoleAssistant {
			role = datatypes.RoleAssistant
		}
		payload = append(payload, &datatypes.PayloadTypeMemberConversational{
			Value: datatypes.Conversational{
				Content: &datatypes.ContentMemberText{Value: t.Text},
				Role:    role,
			},
		})
	}

	_, err := a.data.CreateEvent(ctx, &bedrockagentcore.CreateEventInput{
		MemoryId:       aws.String(memoryID),
		ActorId:        aws.String(actorID),
		SessionId:      aws.String(sessionID),
		EventTimestamp: aws.Time(time.Now()),
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("create memory event: %w", err)
	}
	return nil
}

// EnsureMemory returns the id of the memory named name, creating it with the
// preference and interaction strategies when it does not exist, and waits
// until it is active.
func (a *AgentCore) EnsureMemory(ctx context.Context, name string) (string, error) {
	id, err := a.findMemory(ctx, name)
	if err != nil {
		return "", err
	}
	if id != "" {
		a.logger.Info("using existing memory", "memory_id", id)
		return id, nil
	}

	out, err := a.control.CreateMemory(ctx, &bedrockagentcorecontrol.CreateMemoryInput{
		Name:                aws.String(name),
		EventExpiryDuration: aws.Int32(eventExpiryDays),
		MemoryStrategies: []controltypes.MemoryStrategyInput{
			&controltypes.MemoryStrategyInputMemberUserPreferenceMemoryStrategy{
				Value: controltypes.UserPreferenceMemoryStrategyInput{
					Name:        aws.String("CustomerPreferences"),
					Description: aws.String("Preferencias del cliente: estilo, colores, presupuesto, tamaño de espacios"),
					Namespaces:  []string{PreferencesNamespace},
				},
			},
			&controltypes.MemoryStrategyInputMemberSemanticMemoryStrategy{
				Value: controltypes.SemanticMemoryStrategyInput{
					Name:        aws.String("CustomerInteractions"),
					Description: aws.String("Historial de productos vistos, consultas y compras anteriores"),
					Namespaces:  []string{InteractionsNamespace},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create memory %s: %w", name, err)
	}
	if out.Memory == nil || aws.ToString(out.Memory.Id) == "" {
		return "", fmt.Errorf("create memory %s: empty response", name)
	}

	id = aws.ToString(out.Memory.Id)
	a.logger.Info("memory created, waiting for activation", "memory_id", id)
	if err := a.waitActive(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (a *AgentCore) findMemory(ctx context.Context, name string) (string, error) {
	prefix := name + "-"
	var next *string
	for {
		out, err := a.control.ListMemories(ctx, &bedrockagentcorecontrol.ListMemoriesInput{NextToken: next})
		if err != nil {
			return "", fmt.Errorf("list memories: %w", err)
		}
		for _, m := range out.Memories {
			if id := aws.ToString(m.Id); strings.HasPrefix(id, prefix) {
				return id, nil
			}
		}
		if aws.ToString(out.NextToken) == "" {
			return "", nil
		}
		next = out.NextToken
	}
}

func (a *AgentCore) waitActive(ctx context.Context, id string) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		out, err := a.control.GetMemory(ctx, &bedrockagentcorecontrol.GetMemoryInput{MemoryId: aws.String(id)})
		if err != nil {
			return fmt.Errorf("get memory %s: %w", id, err)
		}
		if out.Memory != nil {
			switch out.Memory.Status {
			case controltypes.MemoryStatusActive:
				return nil
			case controltypes.MemoryStatusFailed:
				return fmt.Errorf("%s: %w", id, ErrMemoryFailed)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
