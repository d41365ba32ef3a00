package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiliankoe/turingroom/internal/conn"
	"github.com/kiliankoe/turingroom/internal/lookup"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUnknownRole  = errors.New("unknown role")
	ErrNotStudent   = errors.New("only students can play a room")
	ErrNoRoom       = errors.New("no room id or code given")
	ErrNoIdentity   = errors.New("no token or guest id given")
)

type RoomResolver interface {
	Room(ctx context.Context, id int) (lookup.Room, error)
	RoomByCode(ctx context.Context, code int) (lookup.Room, error)
}

type IdentityResolver interface {
	Me(ctx context.Context, token string) (lookup.Identity, error)
}

// Dialer opens the room channel and feeds a Handler; *conn.Manager is one.
type Dialer interface {
	Channel
	Subscribe(h conn.Handler)
	Open(ctx context.Context, endpoint string, cred conn.Credential) error
}

type Deps struct {
	Rooms    RoomResolver
	Accounts IdentityResolver
	Dialer   Dialer
	// Endpoint maps a room id to its channel URL.
	Endpoint func(roomID int) (string, error)
}

type JoinRequest struct {
	RoomID   int
	RoomCode int

	Token     string
	GuestID   string
	GuestName string
}

// Join resolves the room and the participant, then opens the room channel.
// Lookup failures abort; no session is created and nothing is retried.
func Join(ctx context.Context, deps Deps, req JoinRequest, opts ...Option) (*Session, error) {
	room, err := resolveRoom(ctx, deps.Rooms, req)
	if err != nil {
		return nil, err
	}
	id, err := resolveIdentity(ctx, deps.Accounts, req)
	if err != nil {
		return nil, err
	}
	endpoint, err := deps.Endpoint(room.ID)
	if err != nil {
		return nil, fmt.Errorf("endpoint for room %d: %w", room.ID, err)
	}

	s := New(id, Room{ID: room.ID, Name: room.Name, Code: room.Code}, room.CurrentRound, deps.Dialer, opts...)
	deps.Dialer.Subscribe(s)
	if err := deps.Dialer.Open(ctx, endpoint, conn.Credential{Token: req.Token, GuestID: req.GuestID}); err != nil {
		return nil, fmt.Errorf("open room %d: %w", room.ID, err)
	}
	log.Info().Int("room", room.ID).Int("code", room.Code).Str("participant", id.ParticipantID()).Bool("guest", id.IsGuest()).Msg("joined room")
	return s, nil
}

func resolveRoom(ctx context.Context, rooms RoomResolver, req JoinRequest) (lookup.Room, error) {
	var (
		room lookup.Room
		err  error
	)
	switch {
	case req.RoomID != 0:
		room, err = rooms.Room(ctx, req.RoomID)
	case req.RoomCode != 0:
		room, err = rooms.RoomByCode(ctx, req.RoomCode)
	default:
		return room, ErrNoRoom
	}
	if err != nil {
		return room, fmt.Errorf("%w: %v", ErrRoomNotFound, err)
	}
	return room, nil
}

func resolveIdentity(ctx context.Context, accounts IdentityResolver, req JoinRequest) (Identity, error) {
	if req.GuestID != "" {
		return Identity{GuestID: req.GuestID, DisplayName: req.GuestName, Role: RoleStudent}, nil
	}
	if req.Token == "" {
		return Identity{}, ErrNoIdentity
	}
	me, err := accounts.Me(ctx, req.Token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnknownRole, err)
	}
	switch Role(me.Role) {
	case RoleStudent:
		return Identity{UserID: me.ID, Role: RoleStudent}, nil
	case RoleTeacher:
		return Identity{}, ErrNotStudent
	}
	return Identity{}, fmt.Errorf("%w: %q", ErrUnknownRole, me.Role)
}
