package ai

import (
	"context"
	"math/rand"
	"strings"

	"github.com/kiliankoe/turingroom/internal/protocol"
)

// Canned answers without a model backend, for local runs and tests.
type Canned struct {
	Lines []string
}

func NewCanned() *Canned {
	return &Canned{Lines: []string{
		"haha ja kenn ich",
		"hmm schwer zu sagen, und du?",
		"ne eher nicht",
		"warum fragst du?",
		"ok das ist lustig",
	}}
}

func (c *Canned) Reply(_ context.Context, _ string, _ string, history []protocol.HistoryEntry) (string, error) {
	if len(history) > 0 {
		last := history[len(history)-1]
		if last.Role == protocol.RoleUser && strings.HasSuffix(strings.TrimSpace(last.Content), "?") {
			return "gute frage, weiß ich grad nicht", nil
		}
	}
	return c.Lines[rand.Intn(len(c.Lines))], nil
}
