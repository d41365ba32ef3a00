package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUnauthorized = errors.New("unauthorized")
)

type Room struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Code         int    `json:"code"`
	CurrentRound int    `json:"current_round"`
}

type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type GuestTicket struct {
	StudentID string `json:"student_id"`
	RoomID    int    `json:"room_id"`
}

// Client talks to the coordinator's HTTP API.
type Client struct {
	BaseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

// Room resolves a room by its id.
func (c *Client) Room(ctx context.Context, id int) (Room, error) {
	var r Room
	err := c.get(ctx, fmt.Sprintf("/api/rooms/%d/", id), "", &r)
	return r, err
}

// RoomByCode resolves a room by its 4-digit join code.
func (c *Client) RoomByCode(ctx context.Context, code int) (Room, error) {
	var r Room
	err := c.get(ctx, "/api/rooms/by-code/?code="+strconv.Itoa(code), "", &r)
	return r, err
}

// Me resolves the bearer token to an identity.
func (c *Client) Me(ctx context.Context, token string) (Identity, error) {
	var id Identity
	if token == "" {
		return id, ErrUnauthorized
	}
	err := c.get(ctx, "/api/accounts/me/", token, &id)
	return id, err
}

// JoinAsGuest registers a guest student in the room with the given code.
func (c *Client) JoinAsGuest(ctx context.Context, code int, name string) (GuestTicket, error) {
	var t GuestTicket
	err := c.post(ctx, "/api/rooms/join", map[string]any{"code": code, "name": name}, &t)
	return t, err
}

// WebSocketURL is the room channel endpoint, without credentials.
func (c *Client) WebSocketURL(roomID int) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/rooms/%d/", roomID)
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(string(b)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRoomNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
