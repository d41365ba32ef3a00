package guess

import (
	"errors"
	"testing"
	"time"

	"github.com/kiliankoe/turingroom/internal/round"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestSubmitRequiresGuessPhase(t *testing.T) {
	e := NewEngine(fixedClock())
	for _, p := range []round.Phase{round.PhasePaused, round.PhaseStarted, round.PhaseResult} {
		if _, err := e.Submit(p, true, 1); !errors.Is(err, ErrNotGuessPhase) {
			t.Fatalf("phase %s: expected ErrNotGuessPhase, got %v", p, err)
		}
	}
	if e.Pending() != ChoiceUnknown {
		t.Fatalf("rejected guess must not become pending, got %s", e.Pending())
	}
}

func TestSubmitAndResolve(t *testing.T) {
	e := NewEngine(fixedClock())
	e.Open()
	in, err := e.Submit(round.PhaseGuessPhase, true, 3)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !in.GuessedAI || in.RoomRound != 3 {
		t.Fatalf("unexpected intent: %+v", in)
	}

	out := e.Resolve(3, false)
	if !out.Recorded || out.Unpaired {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	h := e.History()
	if len(h) != 1 {
		t.Fatalf("expected 1 record, got %d", len(h))
	}
	if h[0].Guessed != ChoiceAI || h[0].IsCorrect || h[0].Round != 3 {
		t.Fatalf("unexpected record: %+v", h[0])
	}
	if h[0].ID == "" || h[0].CreatedAt.IsZero() {
		t.Fatal("record should carry an id and a timestamp")
	}
	if e.Pending() != ChoiceUnknown {
		t.Fatal("pending guess should be consumed by the verdict")
	}
}

func TestVerdictWithoutPendingGuess(t *testing.T) {
	e := NewEngine(fixedClock())
	e.Open()
	out := e.Resolve(2, true)
	if !out.Recorded || !out.Unpaired {
		t.Fatalf("expected unpaired record, got %+v", out)
	}
	if out.Record.Guessed != ChoiceUnknown {
		t.Fatalf("expected unknown marker, got %s", out.Record.Guessed)
	}
}

func TestDuplicateVerdictInSamePhase(t *testing.T) {
	e := NewEngine(fixedClock())
	e.Open()
	_, _ = e.Submit(round.PhaseGuessPhase, false, 1)
	e.Resolve(1, true)
	out := e.Resolve(1, true)
	if out.Recorded {
		t.Fatal("second verdict in the same phase must not be recorded")
	}
	if len(e.History()) != 1 {
		t.Fatalf("expected 1 record, got %d", len(e.History()))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	e := NewEngine(fixedClock())
	for i := 1; i <= 21; i++ {
		e.Open()
		if _, err := e.Submit(round.PhaseGuessPhase, i%2 == 0, i); err != nil {
			t.Fatalf("submit round %d: %v", i, err)
		}
		e.Resolve(i, true)
	}
	h := e.History()
	if len(h) != HistoryCap {
		t.Fatalf("expected %d records, got %d", HistoryCap, len(h))
	}
	if h[0].Round != 21 {
		t.Fatalf("expected most recent round 21 first, got %d", h[0].Round)
	}
	if h[len(h)-1].Round != 2 {
		t.Fatalf("expected oldest kept round 2, got %d", h[len(h)-1].Round)
	}
	for i := 1; i < len(h); i++ {
		if h[i].Round != h[i-1].Round-1 {
			t.Fatalf("history out of order at %d: %d after %d", i, h[i].Round, h[i-1].Round)
		}
	}
	for _, r := range h {
		if r.Round == 1 {
			t.Fatal("oldest record should have been evicted")
		}
	}
}

func TestClear(t *testing.T) {
	e := NewEngine(fixedClock())
	e.Open()
	_, _ = e.Submit(round.PhaseGuessPhase, true, 1)
	e.Resolve(1, true)
	e.Clear()
	if len(e.History()) != 0 {
		t.Fatal("history should be empty after clear")
	}
}
