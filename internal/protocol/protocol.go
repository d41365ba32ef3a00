// Package protocol defines the frames exchanged between a room participant
// and the coordinator over the room WebSocket.
//
// Server -> client frames are tagged by "type":
//
//	member_list        members: [{id, username}]
//	timer              seconds: number
//	private_message    message: string
//	round_started      current_round: number
//	guess_phase        {}
//	make_guess         is_correct: bool
//	conversation_start starter: bool
//
// Client -> server frames are tagged by "command":
//
//	send_private_message user, room_id, room_round, message, past_messages: [{role, content}]
//	make_guess           guessed_ai: bool, room_round: number
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown frame type")
	ErrMalformed   = errors.New("malformed frame")
)

const (
	TypeMemberList        = "member_list"
	TypeTimer             = "timer"
	TypePrivateMessage    = "private_message"
	TypeRoundStarted      = "round_started"
	TypeGuessPhase        = "guess_phase"
	TypeGuessResult       = "make_guess"
	TypeConversationStart = "conversation_start"
	TypeError             = "error"

	CommandSendPrivateMessage = "send_private_message"
	CommandMakeGuess          = "make_guess"
)

// Roles used in past_messages. Entries written by the sender are "user",
// entries written by the counterpart are "assistant".
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Event is an inbound frame. The set of implementations is closed.
type Event interface {
	EventType() string
}

type Member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type MemberList struct {
	Members []Member `json:"members"`
}

type Timer struct {
	Seconds int `json:"seconds"`
}

type PrivateMessage struct {
	Message string `json:"message"`
}

type RoundStarted struct {
	CurrentRound int `json:"current_round"`
}

type GuessPhase struct{}

// GuessResult is the verdict on a submitted guess. It does not echo the
// guessed value.
type GuessResult struct {
	IsCorrect bool `json:"is_correct"`
}

type ConversationStart struct {
	Starter bool `json:"starter"`
}

// Error is sent by the coordinator to a single connection when one of its
// commands is rejected.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (MemberList) EventType() string        { return TypeMemberList }
func (Timer) EventType() string             { return TypeTimer }
func (PrivateMessage) EventType() string    { return TypePrivateMessage }
func (RoundStarted) EventType() string      { return TypeRoundStarted }
func (GuessPhase) EventType() string        { return TypeGuessPhase }
func (GuessResult) EventType() string       { return TypeGuessResult }
func (ConversationStart) EventType() string { return TypeConversationStart }
func (Error) EventType() string             { return TypeError }

// Intent is an outbound frame.
type Intent interface {
	Command() string
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SendPrivateMessage struct {
	User         string         `json:"user"`
	RoomID       int            `json:"room_id"`
	RoomRound    int            `json:"room_round"`
	Message      string         `json:"message"`
	PastMessages []HistoryEntry `json:"past_messages"`
}

type MakeGuess struct {
	GuessedAI bool `json:"guessed_ai"`
	RoomRound int  `json:"room_round"`
}

func (SendPrivateMessage) Command() string { return CommandSendPrivateMessage }
func (MakeGuess) Command() string          { return CommandMakeGuess }

// EncodeEvent marshals ev with its "type" tag.
func EncodeEvent(ev Event) ([]byte, error) {
	return tagged("type", ev.EventType(), ev)
}

// EncodeIntent marshals in with its "command" tag.
func EncodeIntent(in Intent) ([]byte, error) {
	return tagged("command", in.Command(), in)
}

// DecodeEvent parses an inbound frame. Frames with an unrecognised type
// return ErrUnknownType, frames that are not valid JSON objects return
// ErrMalformed.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var ev Event
	switch head.Type {
	case TypeMemberList:
		ev = &MemberList{}
	case TypeTimer:
		ev = &Timer{}
	case TypePrivateMessage:
		ev = &PrivateMessage{}
	case TypeRoundStarted:
		ev = &RoundStarted{}
	case TypeGuessPhase:
		return GuessPhase{}, nil
	case TypeGuessResult:
		ev = &GuessResult{}
	case TypeConversationStart:
		ev = &ConversationStart{}
	case TypeError:
		ev = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return deref(ev), nil
}

// DecodeIntent parses an outbound frame on the coordinator side.
func DecodeIntent(data []byte) (Intent, error) {
	var head struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch head.Command {
	case CommandSendPrivateMessage:
		var in SendPrivateMessage
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Command, err)
		}
		return in, nil
	case CommandMakeGuess:
		var in MakeGuess
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Command, err)
		}
		return in, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Command)
}

func tagged(key, tag string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	t, _ := json.Marshal(tag)
	fields[key] = t
	return json.Marshal(fields)
}

// deref hands out events by value so reducers can switch on concrete types.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *MemberList:
		return *e
	case *Timer:
		return *e
	case *PrivateMessage:
		return *e
	case *RoundStarted:
		return *e
	case *GuessResult:
		return *e
	case *ConversationStart:
		return *e
	case *Error:
		return *e
	}
	return ev
}
