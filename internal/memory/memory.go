// Package memory binds a conversation to long-term memory and recalls the
// records relevant to a prompt.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	PreferencesNamespace  = "shopify/customer/{actorId}/preferences"
	InteractionsNamespace = "shopify/customer/{actorId}/interactions"

	// DefaultMinRelevance is the score below which records are dropped.
	DefaultMinRelevance = 0.2
)

// Channel is one named retrieval namespace.
type Channel struct {
	Name         string
	Namespace    string // may contain {actorId}
	TopK         int
	MinRelevance float64
}

// DefaultChannels returns the preferences and interactions channels.
func DefaultChannels() []Channel {
	return []Channel{
		{Name: "preferences", Namespace: PreferencesNamespace, TopK: 5, MinRelevance: DefaultMinRelevance},
		{Name: "interactions", Namespace: InteractionsNamespace, TopK: 10, MinRelevance: DefaultMinRelevance},
	}
}

// Binding ties an agent to a memory resource, a conversation and an actor.
type Binding struct {
	MemoryID       string
	ConversationID string
	ActorID        string
	Channels       []Channel
}

// NewBinding creates a binding with the default channels.
func NewBinding(memoryID, conversationID, actorID string) Binding {
	return Binding{
		MemoryID:       memoryID,
		ConversationID: conversationID,
		ActorID:        actorID,
		Channels:       DefaultChannels(),
	}
}

// Namespace resolves the channel namespace for the bound actor.
func (b Binding) Namespace(c Channel) string {
	return strings.ReplaceAll(c.Namespace, "{actorId}", b.ActorID)
}

// Record is one recalled memory.
type Record struct {
	Channel string
	Text    string
	Score   float64
}

// Role is the author of a conversational event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversational event appended to memory.
type Turn struct {
	Role Role
	Text string
}

// Store is the memory service.
type Store interface {
	Retrieve(ctx context.Context, memoryID, namespace, query string, topK int) ([]Record, error)
	AppendEvents(ctx context.Context, memoryID, actorID, sessionID string, turns []Turn) error
}

// Recall retrieves records for every channel in parallel. Records below a
// channel's threshold are dropped and each channel is capped at TopK.
func (b Binding) Recall(ctx context.Context, store Store, query string) ([]Record, error) {
	if b.MemoryID == "" || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	results := make([][]Record, len(b.Channels))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range b.Channels {
		g.Go(func() error {
			recs, err := store.Retrieve(gctx, b.MemoryID, b.Namespace(ch), query, ch.TopK)
			if err != nil {
				return fmt.Errorf("retrieve %s: %w", ch.Name, err)
			}
			results[i] = filter(ch, recs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Record
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

func filter(ch Channel, recs []Record) []Record {
	kept := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.Score < ch.MinRelevance || strings.TrimSpace(r.Text) == "" {
			continue
		}
		r.Channel = ch.Name
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if ch.TopK > 0 && len(kept) > ch.TopK {
		kept = kept[:ch.TopK]
	}
	return kept
}

// Remember appends the user prompt and assistant reply as conversational
// events. Empty texts are skipped.
func (b Binding) Remember(ctx context.Context, store Store, prompt, reply string) error {
	if b.MemoryID == "" {
		return nil
	}
	var turns []Turn
	if strings.TrimSpace(prompt) != "" {
		turns = append(turns, Turn{Role: RoleUser, Text: prompt})
	}
	if strings.TrimSpace(reply) != "" {
		turns = append(turns, Turn{Role: RoleAssistant, Text: reply})
	}
	if len(turns) == 0 {
		return nil
	}
	return store.AppendEvents(ctx, b.MemoryID, b.ActorID, b.ConversationID, turns)
}

// FormatContext renders recalled records as a block for the system prompt.
// Returns "" when there is nothing to add.
func FormatContext(records []Record) string {
	if len(records) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<user_context>\n")
	current := ""
	for _, r := range records {
		if r.Channel != current {
			current = r.Channel
			fmt.Fprintf(&sb, "## %s\n", current)
		}
		fmt.Fprintf(&sb, "- %s\n", strings.TrimSpace(r.Text))
	}
	sb.WriteString("</user_context>")
	return sb.String()
}
