// Package session is the participant-side facade over one room membership.
//
// A Session composes the round machine, the chat ledger and the guess engine
// and is driven by two inputs: inbound events from the room channel and
// intents from the presentation layer. Both pass through the session lock,
// so transitions never interleave. Failures never escape as panics; they end
// up as state (status, alert, last error) for the presentation layer.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/kiliankoe/turingroom/internal/chat"
	"github.com/kiliankoe/turingroom/internal/conn"
	"github.com/kiliankoe/turingroom/internal/guess"
	"github.com/kiliankoe/turingroom/internal/protocol"
	"github.com/kiliankoe/turingroom/internal/round"
	"github.com/rs/zerolog/log"
)

var (
	ErrDisconnected = errors.New("disconnected")
	ErrLeft         = errors.New("session left")
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Identity is either an authenticated account or a guest.
type Identity struct {
	UserID      string
	GuestID     string
	DisplayName string
	Role        Role
}

func (i Identity) IsGuest() bool { return i.GuestID != "" }

// ParticipantID is the id sent as "user" with chat intents.
func (i Identity) ParticipantID() string {
	if i.IsGuest() {
		return i.GuestID
	}
	return i.UserID
}

func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ParticipantID()
}

type Room struct {
	ID   int
	Name string
	Code int
}

// Channel is the outbound half of the room connection.
type Channel interface {
	Send(in protocol.Intent) error
	Close() error
}

type Snapshot struct {
	Room      Room
	Identity  Identity
	Status    conn.Status
	Alert     bool
	LastError string

	Phase     round.Phase
	Round     int
	Countdown int
	Verdict   round.Verdict

	Messages []chat.Message
	HasTurn  bool
	Draft    string

	History []guess.Record
	Members []protocol.Member
}

type Option func(*Session)

// WithClock sets the clock used to timestamp guess records.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithOnChange registers a callback that receives a snapshot after every
// state change. It is called without the session lock held.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Session) { s.onChange = fn }
}

type Session struct {
	mu sync.Mutex

	identity Identity
	room     Room
	ch       Channel

	round   *round.Machine
	ledger  *chat.Ledger
	guesses *guess.Engine

	members   []protocol.Member
	status    conn.Status
	alert     bool
	lastError string
	left      bool

	now      func() time.Time
	onChange func(Snapshot)
}

// New creates a session for room, starting at currentRound. The channel is
// expected to report Connected through HandleStatus once it is open.
func New(id Identity, room Room, currentRound int, ch Channel, opts ...Option) *Session {
	s := &Session{
		identity: id,
		room:     room,
		ch:       ch,
		status:   conn.StatusDisconnected,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.round = round.New(currentRound)
	s.ledger = chat.NewLedger()
	s.guesses = guess.NewEngine(s.now)
	return s
}

// HandleEvent applies one inbound event.
func (s *Session) HandleEvent(ev protocol.Event) {
	s.mu.Lock()
	if s.left || s.status != conn.StatusConnected {
		s.mu.Unlock()
		log.Debug().Str("type", ev.EventType()).Msg("event after disconnect ignored")
		return
	}
	s.apply(ev)
	snap := s.snapshot()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) apply(ev protocol.Event) {
	logger := log.With().Int("room", s.room.ID).Int("round", s.round.Round()).Str("type", ev.EventType()).Logger()
	switch e := ev.(type) {
	case protocol.MemberList:
		s.members = append([]protocol.Member(nil), e.Members...)
	case protocol.Timer:
		s.round.Apply(e)
	case protocol.PrivateMessage:
		s.ledger.AppendIncoming(e.Message)
	case protocol.RoundStarted:
		s.round.Apply(e)
		s.ledger.Reset()
		s.guesses.DropPending()
		logger.Info().Int("current_round", e.CurrentRound).Msg("round started")
	case protocol.GuessPhase:
		s.round.Apply(e)
		s.guesses.Open()
	case protocol.GuessResult:
		s.round.Apply(e)
		out := s.guesses.Resolve(s.round.Round(), e.IsCorrect)
		switch {
		case !out.Recorded:
			logger.Warn().Msg("duplicate verdict in guess phase dropped")
		case out.Unpaired:
			logger.Warn().Bool("is_correct", e.IsCorrect).Msg("verdict without a pending guess")
		default:
			logger.Info().Str("guessed", string(out.Record.Guessed)).Bool("is_correct", e.IsCorrect).Msg("verdict")
		}
	case protocol.ConversationStart:
		s.ledger.Begin(e.Starter)
	case protocol.Error:
		s.lastError = e.Message
		logger.Warn().Str("code", e.Code).Msg(e.Message)
	}
}

// HandleStatus records a channel status change. An unexpected close raises
// the alert; the round in progress is not resumed.
func (s *Session) HandleStatus(st conn.Status, cause error) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.status = st
	switch {
	case st == conn.StatusConnected:
		s.alert = false
		s.lastError = ""
	case cause != nil:
		s.alert = true
		s.lastError = cause.Error()
	}
	snap := s.snapshot()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.ledger.SetDraft(text)
	snap := s.snapshot()
	s.mu.Unlock()
	s.notify(snap)
}

// Send transmits text as the next chat message. It fails without side
// effects when the turn is not ours, the text is blank or the channel is
// down.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if err := s.sendable(text); err != nil {
		s.mu.Unlock()
		return err
	}
	in := protocol.SendPrivateMessage{
		User:         s.identity.ParticipantID(),
		RoomID:       s.room.ID,
		RoomRound:    s.round.Round(),
		Message:      text,
		PastMessages: s.ledger.History(),
	}
	if err := s.ch.Send(in); err != nil {
		s.mu.Unlock()
		return err
	}
	_ = s.ledger.Commit(text)
	snap := s.snapshot()
	s.mu.Unlock()
	s.notify(snap)
	return nil
}

func (s *Session) sendable(text string) error {
	if s.left {
		return ErrLeft
	}
	if s.status != conn.StatusConnected {
		return ErrDisconnected
	}
	return s.ledger.Prepare(text)
}

// SubmitGuess sends the guess for the current round and settles the phase
// locally. Outside the guess phase it does nothing and reports false.
func (s *Session) SubmitGuess(guessedAI bool) bool {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return false
	}
	in, err := s.guesses.Submit(s.round.Phase(), guessedAI, s.round.Round())
	if err != nil {
		s.mu.Unlock()
		return false
	}
	if err := s.ch.Send(in); err != nil && !errors.Is(err, conn.ErrNotConnected) {
		log.Warn().Err(err).Int("round", in.RoomRound).Msg("guess not transmitted")
	}
	s.round.Settle()
	snap := s.snapshot()
	s.mu.Unlock()
	s.notify(snap)
	return true
}

func (s *Session) DismissAlert() {
	s.mu.Lock()
	s.alert = false
	snap := s.snapshot()
	s.mu.Unlock()
	s.notify(snap)
}

// Leave ends the membership: the channel is closed and transcript and guess
// history are discarded.
func (s *Session) Leave() error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return nil
	}
	s.left = true
	s.status = conn.StatusDisconnected
	s.ledger.Reset()
	s.guesses.Clear()
	s.members = nil
	snap := s.snapshot()
	s.mu.Unlock()

	err := s.ch.Close()
	s.notify(snap)
	return err
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Room:      s.room,
		Identity:  s.identity,
		Status:    s.status,
		Alert:     s.alert,
		LastError: s.lastError,
		Phase:     s.round.Phase(),
		Round:     s.round.Round(),
		Countdown: s.round.Countdown(),
		Verdict:   s.round.Verdict(),
		Messages:  s.ledger.Messages(),
		HasTurn:   s.ledger.HasTurn(),
		Draft:     s.ledger.Draft(),
		History:   s.guesses.History(),
		Members:   append([]protocol.Member(nil), s.members...),
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
