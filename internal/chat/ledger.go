package chat

import (
	"errors"
	"strings"

	"github.com/kiliankoe/turingroom/internal/protocol"
)

var (
	ErrNotYourTurn  = errors.New("not your turn")
	ErrEmptyMessage = errors.New("empty message")
)

type Speaker string

const (
	SpeakerSelf        Speaker = "self"
	SpeakerCounterpart Speaker = "counterpart"
)

type Message struct {
	Seq     int     `json:"seq"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Ledger is the transcript of the current round together with the turn flag.
// Turn ownership alternates strictly: after Commit the ledger refuses further
// outgoing messages until an incoming message or a new conversation start.
type Ledger struct {
	messages []Message
	seq      int
	hasTurn  bool
	draft    string
}

func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) HasTurn() bool { return l.hasTurn }
func (l *Ledger) Draft() string { return l.draft }
func (l *Ledger) Len() int      { return len(l.messages) }

func (l *Ledger) SetDraft(text string) { l.draft = text }

// Messages returns a copy of the transcript in arrival order.
func (l *Ledger) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Begin sets who speaks first in the round.
func (l *Ledger) Begin(starter bool) { l.hasTurn = starter }

// AppendIncoming records a counterpart message and hands the turn over.
func (l *Ledger) AppendIncoming(text string) {
	l.append(SpeakerCounterpart, text)
	l.hasTurn = true
}

// Prepare checks that text may be sent now. It does not mutate the ledger.
func (l *Ledger) Prepare(text string) error {
	if !l.hasTurn {
		return ErrNotYourTurn
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Commit records an outgoing message once it was handed to the transport.
func (l *Ledger) Commit(text string) error {
	if err := l.Prepare(text); err != nil {
		return err
	}
	l.append(SpeakerSelf, text)
	l.draft = ""
	l.hasTurn = false
	return nil
}

// History translates the transcript into role tagged entries for the
// receiving side.
func (l *Ledger) History() []protocol.HistoryEntry {
	out := make([]protocol.HistoryEntry, 0, len(l.messages))
	for _, m := range l.messages {
		role := protocol.RoleAssistant
		if m.Speaker == SpeakerSelf {
			role = protocol.RoleUser
		}
		out = append(out, protocol.HistoryEntry{Role: role, Content: m.Text})
	}
	return out
}

// Reset clears the transcript and draft for a new round. Turn ownership is
// left to the next conversation start.
func (l *Ledger) Reset() {
	l.messages = nil
	l.draft = ""
}

func (l *Ledger) append(s Speaker, text string) {
	l.seq++
	l.messages = append(l.messages, Message{Seq: l.seq, Speaker: s, Text: text})
}
