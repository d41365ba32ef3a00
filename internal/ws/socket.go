package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/turingroom/internal/ai"
	"github.com/kiliankoe/turingroom/internal/config"
	"github.com/kiliankoe/turingroom/internal/game"
	"github.com/kiliankoe/turingroom/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ConnCtx is one participant's socket.
type ConnCtx struct {
	RoomID   int
	PlayerID string
	Role     game.Role

	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *ConnCtx) Emit(ev protocol.Event) error {
	b, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

type Server struct {
	RM           *game.RoomManager
	mu           sync.Mutex
	members      map[int]map[string]*ConnCtx // roomID -> playerID -> conn
	timers       map[int]context.CancelFunc
	provider     ai.Provider
	provByName   map[string]ai.Provider
	systemPrompt string
	config       config.Config

	// Tick is the countdown resolution; one second outside tests.
	Tick      time.Duration
	AITimeout time.Duration
}

func New(rm *game.RoomManager, cfg config.Config) *Server {
	return &Server{
		RM:        rm,
		members:   make(map[int]map[string]*ConnCtx),
		timers:    make(map[int]context.CancelFunc),
		provider:  ai.NewCanned(),
		config:    cfg,
		Tick:      time.Second,
		AITimeout: 30 * time.Second,
	}
}

func (srv *Server) SetProvider(p ai.Provider) { srv.provider = p }
func (srv *Server) SetProviders(m map[string]ai.Provider) { srv.provByName = m }
func (srv *Server) SetSystemPrompt(prompt string) { srv.systemPrompt = prompt }

// Mount attaches the room socket route to the given Gin engine.
func (srv *Server) Mount(r gin.IRoutes) {
	r.GET("/ws/rooms/:id/", srv.handle)
}

// Close stops every running round timer.
func (srv *Server) Close() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for id, cancel := range srv.timers {
		cancel()
		delete(srv.timers, id)
	}
}

func (srv *Server) handle(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}
	room, err := srv.RM.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	var acc *game.Account
	if sid := c.Query("student_id"); sid != "" {
		acc, err = srv.RM.Guest(sid)
	} else {
		acc, err = srv.RM.Authenticate(c.Query("token"))
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Int("room", id).Msg("upgrade failed")
		return
	}
	cc := &ConnCtx{RoomID: room.ID, PlayerID: acc.ID, Role: acc.Role, conn: conn}
	room.Join(acc)
	srv.addMember(room.ID, cc)
	log.Info().Int("room", room.ID).Str("player", acc.ID).Str("role", string(acc.Role)).Msg("socket connected")
	srv.emitMembers(room)
	srv.resume(room, cc)

	defer func() {
		if srv.removeMember(room.ID, cc) {
			room.Leave(acc.ID)
			srv.emitMembers(room)
		}
		conn.Close()
		log.Info().Int("room", room.ID).Str("player", acc.ID).Msg("socket disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		in, err := protocol.DecodeIntent(data)
		if err != nil {
			srv.err(cc, "bad_request", err.Error())
			continue
		}
		srv.dispatch(room, cc, in)
	}
}

// resume replays the running round to a participant that connects mid-round.
func (srv *Server) resume(room *game.RoomCtx, cc *ConnCtx) {
	if room.GetPhase() != game.PhaseChatting {
		return
	}
	turn, err := room.HasTurn(cc.PlayerID)
	if err != nil {
		return
	}
	_ = cc.Emit(protocol.RoundStarted{CurrentRound: room.CurrentRound()})
	_ = cc.Emit(protocol.ConversationStart{Starter: turn})
}

func (srv *Server) dispatch(room *game.RoomCtx, cc *ConnCtx, in protocol.Intent) {
	switch in := in.(type) {
	case protocol.SendPrivateMessage:
		if in.RoomRound != room.CurrentRound() {
			srv.err(cc, errCode(game.ErrWrongRound), game.ErrWrongRound.Error())
			return
		}
		m, err := room.Say(cc.PlayerID, cc.PlayerID, in.Message)
		if err != nil {
			srv.err(cc, errCode(err), err.Error())
			return
		}
		partner := m.Partner(cc.PlayerID)
		log.Debug().Int("room", room.ID).Int("round", m.Round).Str("player", cc.PlayerID).Msg("send_private_message")
		if partner == game.AIPartner {
			history := append(append([]protocol.HistoryEntry{}, in.PastMessages...),
				protocol.HistoryEntry{Role: protocol.RoleUser, Content: in.Message})
			go srv.replyAI(room, cc.PlayerID, history)
			return
		}
		srv.emitTo(room.ID, partner, protocol.PrivateMessage{Message: in.Message})

	case protocol.MakeGuess:
		g, err := room.Guess(cc.PlayerID, in.RoomRound, in.GuessedAI)
		if err != nil {
			srv.err(cc, errCode(err), err.Error())
			return
		}
		log.Info().Int("room", room.ID).Int("round", g.Round).Str("player", cc.PlayerID).Bool("correct", g.IsCorrect).Msg("make_guess")
		_ = cc.Emit(protocol.GuessResult{IsCorrect: g.IsCorrect})
		if guessed, total := room.GuessCount(); guessed == total {
			srv.export(room)
		}
	}
}

func (srv *Server) replyAI(room *game.RoomCtx, playerID string, history []protocol.HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), srv.AITimeout)
	defer cancel()

	name, model := room.Config.Provider, room.Config.Model
	if name == "" {
		name = srv.config.DefaultProvider
	}
	if model == "" {
		model = srv.config.DefaultModel
	}
	prov := srv.provider
	if p := srv.provByName[strings.ToLower(name)]; p != nil {
		prov = p
	}
	text, err := prov.Reply(ctx, model, srv.systemPrompt, history)
	if err != nil || text == "" {
		log.Error().Err(err).Int("room", room.ID).Str("provider", name).Msg("ai reply failed, using canned line")
		text, _ = ai.NewCanned().Reply(ctx, "", "", history)
	}
	if _, err := room.Say(playerID, game.AIPartner, text); err != nil {
		log.Warn().Err(err).Int("room", room.ID).Msg("ai reply dropped")
		return
	}
	srv.emitTo(room.ID, playerID, protocol.PrivateMessage{Message: text})
}

// StartRound pairs the room's students, tells every participant and starts
// the countdown.
func (srv *Server) StartRound(room *game.RoomCtx) (int, error) {
	round, matches, err := room.StartRound()
	if err != nil {
		return 0, err
	}
	log.Info().Int("room", room.ID).Int("round", round).Int("matches", len(matches)).Msg("round started")
	srv.broadcast(room.ID, protocol.RoundStarted{CurrentRound: round})
	for _, m := range matches {
		srv.emitTo(room.ID, m.A, protocol.ConversationStart{Starter: m.Starter == m.A})
		if !m.WithAI() {
			srv.emitTo(room.ID, m.B, protocol.ConversationStart{Starter: m.Starter == m.B})
		}
	}
	seconds := room.Config.RoundSeconds
	if seconds <= 0 {
		seconds = srv.config.RoundSeconds
	}
	srv.runTimer(room, seconds)
	return round, nil
}

func (srv *Server) runTimer(room *game.RoomCtx, seconds int) {
	ctx, cancel := context.WithCancel(context.Background())
	srv.mu.Lock()
	if prev := srv.timers[room.ID]; prev != nil {
		prev()
	}
	srv.timers[room.ID] = cancel
	srv.mu.Unlock()

	go func() {
		ticker := time.NewTicker(srv.Tick)
		defer ticker.Stop()
		remaining := seconds
		srv.broadcast(room.ID, protocol.Timer{Seconds: remaining})
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			remaining--
			if remaining > 0 {
				srv.broadcast(room.ID, protocol.Timer{Seconds: remaining})
				continue
			}
			if err := room.EnterGuessPhase(); err != nil {
				log.Warn().Err(err).Int("room", room.ID).Msg("guess phase skipped")
				return
			}
			log.Info().Int("room", room.ID).Int("round", room.CurrentRound()).Msg("guess phase")
			srv.broadcast(room.ID, protocol.GuessPhase{})
			return
		}
	}()
}

func (srv *Server) export(room *game.RoomCtx) {
	if !srv.config.ExportEnabled || srv.config.ExportFile == "" {
		return
	}
	if err := game.ExportRound(room, srv.config.ExportFile); err != nil {
		log.Error().Err(err).Int("room", room.ID).Msg("failed to export round")
		return
	}
	log.Info().Int("room", room.ID).Str("file", srv.config.ExportFile).Msg("exported round")
}

func (srv *Server) addMember(roomID int, c *ConnCtx) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[roomID] == nil {
		srv.members[roomID] = make(map[string]*ConnCtx)
	}
	if old := srv.members[roomID][c.PlayerID]; old != nil {
		old.conn.Close()
	}
	srv.members[roomID][c.PlayerID] = c
}

// removeMember reports whether c was still the player's current socket.
func (srv *Server) removeMember(roomID int, c *ConnCtx) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[roomID]; m != nil && m[c.PlayerID] == c {
		delete(m, c.PlayerID)
		return true
	}
	return false
}

func (srv *Server) conns(roomID int) []*ConnCtx {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]*ConnCtx, 0, len(srv.members[roomID]))
	for _, c := range srv.members[roomID] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) broadcast(roomID int, ev protocol.Event) {
	for _, c := range srv.conns(roomID) {
		if err := c.Emit(ev); err != nil {
			log.Warn().Err(err).Int("room", roomID).Str("player", c.PlayerID).Str("type", ev.EventType()).Msg("emit failed")
		}
	}
}

func (srv *Server) emitTo(roomID int, playerID string, ev protocol.Event) {
	srv.mu.Lock()
	c := srv.members[roomID][playerID]
	srv.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Emit(ev); err != nil {
		log.Warn().Err(err).Int("room", roomID).Str("player", playerID).Str("type", ev.EventType()).Msg("emit failed")
	}
}

func (srv *Server) emitMembers(room *game.RoomCtx) {
	accs := room.Members()
	list := make([]protocol.Member, 0, len(accs))
	for _, a := range accs {
		list = append(list, protocol.Member{ID: a.ID, Username: a.Name})
	}
	srv.broadcast(room.ID, protocol.MemberList{Members: list})
}

func (srv *Server) err(c *ConnCtx, code, message string) {
	_ = c.Emit(protocol.Error{Code: code, Message: message})
}

func errCode(err error) string {
	switch {
	case errors.Is(err, game.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, game.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, game.ErrAlreadyGuessed):
		return "already_guessed"
	case errors.Is(err, game.ErrNoMatch):
		return "no_match"
	case errors.Is(err, game.ErrWrongRound):
		return "wrong_round"
	}
	return "bad_request"
}
