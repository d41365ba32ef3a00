package game

import (
	"time"
)

type Phase string

const (
	PhaseLobby    Phase = "Lobby"
	PhaseChatting Phase = "Chatting"
	PhaseGuessing Phase = "Guessing"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// AIPartner stands in for the partner id of a match against the AI.
const AIPartner = "AI"

type RoomConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	RoundSeconds int    `json:"roundSeconds"`
}

type Account struct {
	ID       string    `json:"id"`
	Name     string    `json:"username"`
	Role     Role      `json:"role"`
	Guest    bool      `json:"guest"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Match pairs two students for one round. B is AIPartner when the student
// chats with the AI.
type Match struct {
	ID      string `json:"id"`
	Round   int    `json:"round"`
	A       string `json:"a"`
	B       string `json:"b"`
	Starter string `json:"starter"`
	Lines   []Line `json:"lines"`
}

type Line struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// LastSpeaker is the id of whoever wrote the latest line, or "".
func (m *Match) LastSpeaker() string {
	if len(m.Lines) == 0 {
		return ""
	}
	return m.Lines[len(m.Lines)-1].From
}

func (m *Match) WithAI() bool { return m.B == AIPartner }

// Partner returns the other side of the match for id.
func (m *Match) Partner(id string) string {
	if m.A == id {
		return m.B
	}
	return m.A
}

type Guess struct {
	PlayerID  string    `json:"playerId"`
	Round     int       `json:"round"`
	GuessedAI bool      `json:"guessedAi"`
	IsCorrect bool      `json:"isCorrect"`
	At        time.Time `json:"at"`
}
