package ai

import (
	"context"

	"github.com/kiliankoe/turingroom/internal/protocol"
)

// Provider answers as the counterpart in a room chat. history is written from
// the student's point of view: the student's lines are "user", earlier AI
// lines are "assistant".
type Provider interface {
	Reply(ctx context.Context, model string, systemPrompt string, history []protocol.HistoryEntry) (string, error)
}

const DefaultSystemPrompt = "Du chattest mit einer Person, die herausfinden soll, ob du ein Mensch oder eine KI bist. " +
	"Antworte wie ein Mensch: kurz, locker, höchstens 1-2 Sätze, gelegentlich mit kleinen Tippfehlern."

// Messages prepends the system prompt to history in the chat completion
// shape both backends accept.
func Messages(systemPrompt string, history []protocol.HistoryEntry) []map[string]string {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	out := make([]map[string]string, 0, len(history)+1)
	out = append(out, map[string]string{"role": "system", "content": systemPrompt})
	for _, h := range history {
		out = append(out, map[string]string{"role": h.Role, "content": h.Content})
	}
	return out
}
