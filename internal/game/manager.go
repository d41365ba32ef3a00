package game

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidPhase     = errors.New("invalid phase for action")
	ErrAlreadyGuessed   = errors.New("already guessed")
	ErrNoMatch          = errors.New("no match this round")
	ErrWrongRound       = errors.New("wrong round")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrNotEnoughPlayers = errors.New("no students in room")
)

type RoomCtx struct {
	ID        int
	Name      string
	Code      int
	CreatedAt time.Time
	Config    RoomConfig

	Phase   Phase
	RoundIx int

	members map[string]*Account

	// per round state
	matches map[string]*Match // playerID -> Match
	guesses map[string]*Guess // playerID -> Guess

	Guesses []*Guess // every guess of every round, oldest first

	mu sync.Mutex
}

type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[int]*RoomCtx
	byCode   map[int]int
	nextID   int
	accounts map[string]*Account // id -> Account
	tokens   map[string]string   // token -> id
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:    make(map[int]*RoomCtx),
		byCode:   make(map[int]int),
		accounts: make(map[string]*Account),
		tokens:   make(map[string]string),
	}
}

func (rm *RoomManager) CreateRoom(name string, cfg RoomConfig) *RoomCtx {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	code := randomCode()
	for rm.byCode[code] != 0 {
		code = randomCode()
	}
	rm.nextID++
	r := &RoomCtx{
		ID:        rm.nextID,
		Name:      name,
		Code:      code,
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
		Phase:     PhaseLobby,
		members:   make(map[string]*Account),
		matches:   make(map[string]*Match),
		guesses:   make(map[string]*Guess),
	}
	rm.rooms[r.ID] = r
	rm.byCode[code] = r.ID
	return r
}

func (rm *RoomManager) Get(id int) (*RoomCtx, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	r := rm.rooms[id]
	if r == nil {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (rm *RoomManager) ByCode(code int) (*RoomCtx, error) {
	rm.mu.RLock()
	id := rm.byCode[code]
	rm.mu.RUnlock()
	if id == 0 {
		return nil, ErrRoomNotFound
	}
	return rm.Get(id)
}

// Register creates an account and returns its bearer token.
func (rm *RoomManager) Register(name string, role Role) (*Account, string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	acc := &Account{ID: uuid.NewString(), Name: name, Role: role, JoinedAt: time.Now().UTC()}
	token := uuid.NewString()
	rm.accounts[acc.ID] = acc
	rm.tokens[token] = acc.ID
	return acc, token
}

func (rm *RoomManager) Authenticate(token string) (*Account, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	acc := rm.accounts[rm.tokens[token]]
	if acc == nil {
		return nil, ErrUnauthorized
	}
	return acc, nil
}

// Guest returns the guest account with the given id.
func (rm *RoomManager) Guest(id string) (*Account, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	acc := rm.accounts[id]
	if acc == nil || !acc.Guest {
		return nil, ErrUnauthorized
	}
	return acc, nil
}

// JoinGuest creates a guest student and adds it to the room with code.
func (rm *RoomManager) JoinGuest(code int, name string) (*Account, *RoomCtx, error) {
	r, err := rm.ByCode(code)
	if err != nil {
		return nil, nil, err
	}
	acc := &Account{ID: uuid.NewString(), Name: name, Role: RoleStudent, Guest: true, JoinedAt: time.Now().UTC()}
	rm.mu.Lock()
	rm.accounts[acc.ID] = acc
	rm.mu.Unlock()
	r.Join(acc)
	return acc, r, nil
}

func (r *RoomCtx) Join(acc *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[acc.ID] = acc
}

func (r *RoomCtx) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
}

func (r *RoomCtx) Members() []*Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Account, 0, len(r.members))
	for _, a := range r.members {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (r *RoomCtx) GetPhase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Phase
}

func (r *RoomCtx) CurrentRound() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RoundIx
}

// StartRound pairs the students for the next round. With an odd count the
// one left over chats with the AI.
func (r *RoomCtx) StartRound() (int, []*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Phase == PhaseChatting {
		return 0, nil, ErrInvalidPhase
	}
	students := make([]string, 0, len(r.members))
	for id, a := range r.members {
		if a.Role == RoleStudent {
			students = append(students, id)
		}
	}
	if len(students) == 0 {
		return 0, nil, ErrNotEnoughPlayers
	}
	rand.Shuffle(len(students), func(i, j int) { students[i], students[j] = students[j], students[i] })

	r.RoundIx++
	r.matches = make(map[string]*Match)
	r.guesses = make(map[string]*Guess)
	matches := make([]*Match, 0, (len(students)+1)/2)
	for i := 0; i < len(students); i += 2 {
		m := &Match{ID: uuid.NewString(), Round: r.RoundIx, A: students[i], B: AIPartner, Starter: students[i]}
		if i+1 < len(students) {
			m.B = students[i+1]
			if rand.Intn(2) == 1 {
				m.Starter = m.B
			}
		}
		r.matches[m.A] = m
		if !m.WithAI() {
			r.matches[m.B] = m
		}
		matches = append(matches, m)
	}
	r.Phase = PhaseChatting
	return r.RoundIx, matches, nil
}

func (r *RoomCtx) Match(playerID string) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.matches[playerID]
	if m == nil {
		return nil, ErrNoMatch
	}
	return m, nil
}

// Say appends a chat line from speaker to the match of playerID. Speakers
// strictly alternate, and the match starter writes first.
func (r *RoomCtx) Say(playerID, speaker, text string) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Phase != PhaseChatting {
		return nil, ErrInvalidPhase
	}
	m := r.matches[playerID]
	if m == nil {
		return nil, ErrNoMatch
	}
	last := m.LastSpeaker()
	if last == speaker || (last == "" && m.Starter != speaker) {
		return nil, ErrNotYourTurn
	}
	m.Lines = append(m.Lines, Line{From: speaker, Text: text, At: time.Now().UTC()})
	return m, nil
}

// HasTurn reports whether playerID writes the next line of its match.
func (r *RoomCtx) HasTurn(playerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.matches[playerID]
	if m == nil {
		return false, ErrNoMatch
	}
	last := m.LastSpeaker()
	if last == "" {
		return m.Starter == playerID, nil
	}
	return last != playerID, nil
}

func (r *RoomCtx) EnterGuessPhase() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Phase != PhaseChatting {
		return ErrInvalidPhase
	}
	r.Phase = PhaseGuessing
	return nil
}

// Guess records playerID's guess for the current round and judges it.
func (r *RoomCtx) Guess(playerID string, round int, guessedAI bool) (*Guess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Phase != PhaseGuessing {
		return nil, ErrInvalidPhase
	}
	if round != r.RoundIx {
		return nil, ErrWrongRound
	}
	m := r.matches[playerID]
	if m == nil {
		return nil, ErrNoMatch
	}
	if _, done := r.guesses[playerID]; done {
		return nil, ErrAlreadyGuessed
	}
	g := &Guess{PlayerID: playerID, Round: round, GuessedAI: guessedAI, IsCorrect: guessedAI == m.WithAI(), At: time.Now().UTC()}
	r.guesses[playerID] = g
	r.Guesses = append(r.Guesses, g)
	return g, nil
}

// GuessCount reports how many of the matched students have guessed.
func (r *RoomCtx) GuessCount() (guessed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.guesses), len(r.matches)
}

func randomCode() int {
	return 1000 + rand.Intn(9000)
}
