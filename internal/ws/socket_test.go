package ws

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kiliankoe/turingroom/internal/config"
	"github.com/kiliankoe/turingroom/internal/game"
	"github.com/kiliankoe/turingroom/internal/protocol"
)

type peer struct {
	t    *testing.T
	id   string
	conn *websocket.Conn
}

func (p *peer) send(in protocol.Intent) {
	p.t.Helper()
	b, err := protocol.EncodeIntent(in)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

// next returns the next event of the given type, skipping others.
func (p *peer) next(typ string) protocol.Event {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.t.Fatalf("%s waiting for %s: %v", p.id, typ, err)
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			p.t.Fatalf("decode %s: %v", data, err)
		}
		if ev.EventType() == typ {
			return ev
		}
	}
}

func setup(t *testing.T, roundSeconds int) (*Server, *game.RoomManager, *game.RoomCtx, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rm := game.NewRoomManager()
	srv := New(rm, config.Config{RoundSeconds: roundSeconds})
	srv.Tick = 20 * time.Millisecond
	t.Cleanup(srv.Close)
	r := gin.New()
	srv.Mount(r)
	hs := httptest.NewServer(r)
	t.Cleanup(hs.Close)
	room := rm.CreateRoom("Kurs", game.RoomConfig{})
	base := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws/rooms/" + strconv.Itoa(room.ID) + "/"
	return srv, rm, room, base
}

func dial(t *testing.T, rm *game.RoomManager, room *game.RoomCtx, base, name string) *peer {
	t.Helper()
	acc, _, err := rm.JoinGuest(room.Code, name)
	if err != nil {
		t.Fatalf("join guest: %v", err)
	}
	c, _, err := websocket.DefaultDialer.Dial(base+"?student_id="+acc.ID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	p := &peer{t: t, id: acc.ID, conn: c}
	// registered once its own member list arrives
	p.next(protocol.TypeMemberList)
	return p
}

func TestRejectsUnknownCredential(t *testing.T) {
	_, _, _, base := setup(t, 5)
	_, resp, err := websocket.DefaultDialer.Dial(base+"?token=nope", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestMemberListOnConnect(t *testing.T) {
	_, rm, room, base := setup(t, 5)
	a := dial(t, rm, room, base, "Alice")
	dial(t, rm, room, base, "Bob")
	ml := a.next(protocol.TypeMemberList).(protocol.MemberList)
	if len(ml.Members) != 2 {
		t.Fatalf("expected 2 members, got %+v", ml.Members)
	}
}

func TestHumanPairRound(t *testing.T) {
	srv, rm, room, base := setup(t, 25)
	a := dial(t, rm, room, base, "Alice")
	b := dial(t, rm, room, base, "Bob")

	round, err := srv.StartRound(room)
	if err != nil || round != 1 {
		t.Fatalf("start round: %d %v", round, err)
	}
	for _, p := range []*peer{a, b} {
		if rs := p.next(protocol.TypeRoundStarted).(protocol.RoundStarted); rs.CurrentRound != 1 {
			t.Fatalf("expected round 1, got %d", rs.CurrentRound)
		}
	}
	first, second := a, b
	if !a.next(protocol.TypeConversationStart).(protocol.ConversationStart).Starter {
		first, second = b, a
		b.next(protocol.TypeConversationStart)
	} else if b.next(protocol.TypeConversationStart).(protocol.ConversationStart).Starter {
		t.Fatal("only one side starts")
	}

	second.send(protocol.SendPrivateMessage{RoomRound: 1, Message: "zu früh"})
	if e := second.next(protocol.TypeError).(protocol.Error); e.Code != "not_your_turn" {
		t.Fatalf("expected not_your_turn, got %+v", e)
	}

	first.send(protocol.SendPrivateMessage{RoomRound: 1, Message: "hallo"})
	if pm := second.next(protocol.TypePrivateMessage).(protocol.PrivateMessage); pm.Message != "hallo" {
		t.Fatalf("unexpected relay %+v", pm)
	}

	for _, p := range []*peer{a, b} {
		p.next(protocol.TypeGuessPhase)
	}
	a.send(protocol.MakeGuess{GuessedAI: true, RoomRound: 1})
	if v := a.next(protocol.TypeGuessResult).(protocol.GuessResult); v.IsCorrect {
		t.Fatal("guessing AI against a human is wrong")
	}
	b.send(protocol.MakeGuess{GuessedAI: false, RoomRound: 1})
	if v := b.next(protocol.TypeGuessResult).(protocol.GuessResult); !v.IsCorrect {
		t.Fatal("guessing human against a human is correct")
	}
	b.send(protocol.MakeGuess{GuessedAI: false, RoomRound: 1})
	if e := b.next(protocol.TypeError).(protocol.Error); e.Code != "already_guessed" {
		t.Fatalf("expected already_guessed, got %+v", e)
	}
}

func TestTimerCountsDown(t *testing.T) {
	srv, rm, room, base := setup(t, 3)
	a := dial(t, rm, room, base, "Alice")
	if _, err := srv.StartRound(room); err != nil {
		t.Fatal(err)
	}
	for _, want := range []int{3, 2, 1} {
		if tm := a.next(protocol.TypeTimer).(protocol.Timer); tm.Seconds != want {
			t.Fatalf("expected %d seconds, got %d", want, tm.Seconds)
		}
	}
	a.next(protocol.TypeGuessPhase)
	if room.GetPhase() != game.PhaseGuessing {
		t.Fatalf("expected guessing phase, got %s", room.GetPhase())
	}
}

func TestAIPartnerReplies(t *testing.T) {
	srv, rm, room, base := setup(t, 50)
	a := dial(t, rm, room, base, "Alice")
	if _, err := srv.StartRound(room); err != nil {
		t.Fatal(err)
	}
	if !a.next(protocol.TypeConversationStart).(protocol.ConversationStart).Starter {
		t.Fatal("student starts against the AI")
	}
	a.send(protocol.SendPrivateMessage{RoomRound: 1, Message: "wie alt bist du?"})
	if pm := a.next(protocol.TypePrivateMessage).(protocol.PrivateMessage); pm.Message == "" {
		t.Fatal("expected a reply from the AI partner")
	}
	m, _ := room.Match(a.id)
	if !m.WithAI() {
		t.Fatal("single student should be matched with the AI")
	}
}
