// Package guess pairs the participant's guess with the coordinator's verdict
// and keeps a bounded history of outcomes.
//
// The verdict frame does not echo the guessed value, so the engine remembers
// the value it last sent and consumes it when the verdict arrives.
package guess

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiliankoe/turingroom/internal/protocol"
	"github.com/kiliankoe/turingroom/internal/round"
)

var ErrNotGuessPhase = errors.New("not in guess phase")

type Choice string

const (
	ChoiceUnknown Choice = "unknown"
	ChoiceHuman   Choice = "human"
	ChoiceAI      Choice = "ai"
)

func ChoiceOf(guessedAI bool) Choice {
	if guessedAI {
		return ChoiceAI
	}
	return ChoiceHuman
}

type Record struct {
	ID        string    `json:"id"`
	Round     int       `json:"round"`
	Guessed   Choice    `json:"guessed"`
	IsCorrect bool      `json:"isCorrect"`
	CreatedAt time.Time `json:"createdAt"`
}

// Outcome is the result of resolving a verdict.
type Outcome struct {
	Record Record
	// Recorded is false when the verdict duplicated one already recorded in
	// the same guess phase.
	Recorded bool
	// Unpaired is set when no guess was pending; Record.Guessed is then
	// ChoiceUnknown.
	Unpaired bool
}

type Engine struct {
	pending  Choice
	recorded bool
	history  History
	now      func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{pending: ChoiceUnknown, now: now}
}

func (e *Engine) Pending() Choice { return e.pending }

// Open starts a new guess phase. Only one verdict is recorded per phase.
func (e *Engine) Open() { e.recorded = false }

// Submit stores guessedAI as pending and returns the intent to transmit.
func (e *Engine) Submit(phase round.Phase, guessedAI bool, roomRound int) (protocol.MakeGuess, error) {
	if phase != round.PhaseGuessPhase {
		return protocol.MakeGuess{}, ErrNotGuessPhase
	}
	e.pending = ChoiceOf(guessedAI)
	return protocol.MakeGuess{GuessedAI: guessedAI, RoomRound: roomRound}, nil
}

// Resolve turns a verdict for roomRound into a history record.
func (e *Engine) Resolve(roomRound int, isCorrect bool) Outcome {
	if e.recorded {
		return Outcome{}
	}
	r := Record{
		ID:        uuid.NewString(),
		Round:     roomRound,
		Guessed:   e.pending,
		IsCorrect: isCorrect,
		CreatedAt: e.now().UTC(),
	}
	e.history.Push(r)
	e.pending = ChoiceUnknown
	e.recorded = true
	return Outcome{Record: r, Recorded: true, Unpaired: r.Guessed == ChoiceUnknown}
}

// DropPending forgets a guess whose verdict never arrived.
func (e *Engine) DropPending() { e.pending = ChoiceUnknown }

// History returns the records most recent first.
func (e *Engine) History() []Record { return e.history.Records() }

// Clear drops the pending guess and the whole history.
func (e *Engine) Clear() {
	e.pending = ChoiceUnknown
	e.recorded = false
	e.history.Clear()
}
