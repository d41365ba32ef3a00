// Package round mirrors the coordinator's round phase on the client.
//
// The coordinator is the single source of truth: every phase event is applied
// as received, whatever the current phase. The one local transition is the
// optimistic return to Paused once a guess has been sent.
package round

import "github.com/kiliankoe/turingroom/internal/protocol"

type Phase string

const (
	PhasePaused     Phase = "paused"
	PhaseStarted    Phase = "started"
	PhaseGuessPhase Phase = "guess_phase"
	PhaseResult     Phase = "result"
)

type Verdict string

const (
	VerdictNone    Verdict = ""
	VerdictCorrect Verdict = "correct"
	VerdictWrong   Verdict = "wrong"
)

// Transition describes what applying one event did.
type Transition struct {
	From Phase
	To   Phase

	// RoundStarted is set when a new round began; the caller must clear the
	// chat ledger and draft along with it.
	RoundStarted bool
	// Verdict is set when a guess verdict arrived.
	Verdict bool
}

func (t Transition) Changed() bool { return t.From != t.To }

type Machine struct {
	phase     Phase
	round     int
	countdown int
	verdict   Verdict
}

// New returns a machine in Paused for the given round, as read from the room
// lookup.
func New(currentRound int) *Machine {
	return &Machine{phase: PhasePaused, round: currentRound}
}

func (m *Machine) Phase() Phase     { return m.phase }
func (m *Machine) Round() int       { return m.round }
func (m *Machine) Countdown() int   { return m.countdown }
func (m *Machine) Verdict() Verdict { return m.verdict }

// Apply feeds one inbound event to the machine. Events that carry no phase
// information leave it untouched.
func (m *Machine) Apply(ev protocol.Event) Transition {
	t := Transition{From: m.phase}
	switch e := ev.(type) {
	case protocol.Timer:
		m.countdown = e.Seconds
		m.phase = PhaseStarted
	case protocol.RoundStarted:
		m.round = e.CurrentRound
		m.phase = PhaseStarted
		t.RoundStarted = true
	case protocol.GuessPhase:
		m.verdict = VerdictNone
		m.phase = PhaseGuessPhase
	case protocol.GuessResult:
		if e.IsCorrect {
			m.verdict = VerdictCorrect
		} else {
			m.verdict = VerdictWrong
		}
		m.phase = PhaseResult
		t.Verdict = true
	}
	t.To = m.phase
	return t
}

// Settle is the optimistic local transition after a guess was sent.
func (m *Machine) Settle() Transition {
	t := Transition{From: m.phase, To: PhasePaused}
	m.phase = PhasePaused
	return t
}
