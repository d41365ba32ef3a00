package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEventShapes(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"round_started","current_round":4}`))
	if err != nil {
		t.Fatalf("decode round_started: %v", err)
	}
	rs, ok := ev.(RoundStarted)
	if !ok {
		t.Fatalf("expected RoundStarted, got %T", ev)
	}
	if rs.CurrentRound != 4 {
		t.Fatalf("expected round 4, got %d", rs.CurrentRound)
	}

	ev, err = DecodeEvent([]byte(`{"type":"guess_phase"}`))
	if err != nil {
		t.Fatalf("decode guess_phase: %v", err)
	}
	if _, ok := ev.(GuessPhase); !ok {
		t.Fatalf("expected GuessPhase, got %T", ev)
	}

	ev, err = DecodeEvent([]byte(`{"type":"member_list","members":[{"id":"a","username":"Alice"},{"id":"b","username":"Bob"}]}`))
	if err != nil {
		t.Fatalf("decode member_list: %v", err)
	}
	ml := ev.(MemberList)
	if len(ml.Members) != 2 || ml.Members[1].Username != "Bob" {
		t.Fatalf("unexpected members: %+v", ml.Members)
	}

	ev, err = DecodeEvent([]byte(`{"type":"make_guess","is_correct":true}`))
	if err != nil {
		t.Fatalf("decode make_guess: %v", err)
	}
	if !ev.(GuessResult).IsCorrect {
		t.Fatal("expected is_correct=true")
	}
}

func TestDecodeEventRejectsUnknownAndMalformed(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"dance"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`not json`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`{"type":"timer","seconds":"soon"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for bad field, got %v", err)
	}
}

func TestEncodeEventCarriesTypeTag(t *testing.T) {
	b, err := EncodeEvent(ConversationStart{Starter: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != TypeConversationStart {
		t.Fatalf("expected type tag, got %v", raw["type"])
	}
	if raw["starter"] != true {
		t.Fatalf("expected starter=true, got %v", raw["starter"])
	}
}

func TestPastMessagesSurviveEncoding(t *testing.T) {
	in := SendPrivateMessage{
		User:      "u1",
		RoomID:    7,
		RoomRound: 2,
		Message:   "and you?",
		PastMessages: []HistoryEntry{
			{Role: RoleAssistant, Content: "hi"},
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "how are you"},
		},
	}
	b, err := EncodeIntent(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeIntent(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out.(SendPrivateMessage)
	if !ok {
		t.Fatalf("expected SendPrivateMessage, got %T", out)
	}
	if got.RoomID != 7 || got.RoomRound != 2 || got.Message != "and you?" {
		t.Fatalf("unexpected intent: %+v", got)
	}
	if len(got.PastMessages) != 3 {
		t.Fatalf("expected 3 past messages, got %d", len(got.PastMessages))
	}
	for i, want := range in.PastMessages {
		if got.PastMessages[i] != want {
			t.Fatalf("entry %d: expected %+v, got %+v", i, want, got.PastMessages[i])
		}
	}
}

func TestMakeGuessWireNames(t *testing.T) {
	b, err := EncodeIntent(MakeGuess{GuessedAI: true, RoomRound: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(b, &raw)
	if raw["command"] != CommandMakeGuess || raw["guessed_ai"] != true || raw["room_round"] != float64(3) {
		t.Fatalf("unexpected wire form: %s", b)
	}
	if _, err := DecodeIntent([]byte(`{"command":"shout"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}
