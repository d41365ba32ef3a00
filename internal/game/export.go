package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportRound appends the transcripts and guesses of the current round to a
// text file.
func ExportRound(r *RoomCtx, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	name := func(id string) string {
		if id == AIPartner {
			return AIPartner
		}
		if a := r.members[id]; a != nil {
			return a.Name
		}
		return "Unknown"
	}

	if !fileExists || r.RoundIx == 1 {
		if fileExists {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("Turing Room Results - Room %s (%d)\n", r.Name, r.Code))
		sb.WriteString(fmt.Sprintf("Started: %s\n", time.Now().Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	}

	sb.WriteString(fmt.Sprintf("Round %d\n", r.RoundIx))
	sb.WriteString(strings.Repeat("-", 40) + "\n")

	seen := make(map[string]bool)
	for _, m := range r.matches {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		sb.WriteString(fmt.Sprintf("%s vs %s (starts: %s)\n", name(m.A), name(m.B), name(m.Starter)))
		for _, l := range m.Lines {
			sb.WriteString(fmt.Sprintf("  %s: %q\n", name(l.From), l.Text))
		}
	}

	if len(r.guesses) > 0 {
		sb.WriteString("\nGuesses:\n")
		for id, g := range r.guesses {
			verdict := "wrong"
			if g.IsCorrect {
				verdict = "correct"
			}
			guessed := "human"
			if g.GuessedAI {
				guessed = "AI"
			}
			sb.WriteString(fmt.Sprintf("- %s guessed %s (%s)\n", name(id), guessed, verdict))
		}
	}
	sb.WriteString("\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
