// Package api serves the coordinator's HTTP routes: room lookup, accounts,
// guest join and host round control.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/turingroom/internal/config"
	"github.com/kiliankoe/turingroom/internal/game"
	"github.com/kiliankoe/turingroom/internal/ws"
)

type Handler struct {
	rm   *game.RoomManager
	sock *ws.Server
	cfg  config.Config
}

func New(rm *game.RoomManager, sock *ws.Server, cfg config.Config) *Handler {
	return &Handler{rm: rm, sock: sock, cfg: cfg}
}

type roomView struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Code         int    `json:"code"`
	CurrentRound int    `json:"current_round"`
}

func view(r *game.RoomCtx) roomView {
	return roomView{ID: r.ID, Name: r.Name, Code: r.Code, CurrentRound: r.CurrentRound()}
}

// Register mounts all routes. Host routes are only mounted when GM
// credentials are configured.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})
	r.GET("/api/rooms/:id/", h.getRoom)
	r.GET("/api/rooms/by-code/", h.getRoomByCode)
	r.GET("/api/accounts/me/", h.me)
	r.POST("/api/accounts/register", h.register)
	r.POST("/api/rooms/join", h.joinGuest)

	if h.cfg.GMUser != "" && h.cfg.GMPass != "" {
		auth := gin.BasicAuth(gin.Accounts{h.cfg.GMUser: h.cfg.GMPass})
		r.POST("/api/rooms", auth, h.createRoom)
		r.POST("/api/rooms/:id/start", auth, h.startRound)
	}
}

// Logger logs every request through zerolog, skipping socket traffic.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/ws/") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	}
}

func (h *Handler) room(c *gin.Context) (*game.RoomCtx, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return nil, false
	}
	room, err := h.rm.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return nil, false
	}
	return room, true
}

func (h *Handler) getRoom(c *gin.Context) {
	if room, ok := h.room(c); ok {
		c.JSON(http.StatusOK, view(room))
	}
}

func (h *Handler) getRoomByCode(c *gin.Context) {
	code, err := strconv.Atoi(c.Query("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}
	room, err := h.rm.ByCode(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	c.JSON(http.StatusOK, view(room))
}

func (h *Handler) me(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	acc, err := h.rm.Authenticate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": acc.ID, "role": acc.Role})
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Name string    `json:"name" binding:"required"`
		Role game.Role `json:"role"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if req.Role == "" {
		req.Role = game.RoleStudent
	}
	if req.Role != game.RoleStudent && req.Role != game.RoleTeacher {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}
	acc, token := h.rm.Register(req.Name, req.Role)
	log.Info().Str("player", acc.ID).Str("role", string(acc.Role)).Msg("account registered")
	c.JSON(http.StatusCreated, gin.H{"id": acc.ID, "token": token, "role": acc.Role})
}

func (h *Handler) joinGuest(c *gin.Context) {
	var req struct {
		Code int    `json:"code" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	acc, room, err := h.rm.JoinGuest(req.Code, req.Name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	log.Info().Int("room", room.ID).Str("player", acc.ID).Msg("guest joined")
	c.JSON(http.StatusOK, gin.H{"student_id": acc.ID, "room_id": room.ID})
}

func (h *Handler) createRoom(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		Provider     string `json:"provider"`
		Model        string `json:"model"`
		RoundSeconds int    `json:"roundSeconds"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config"})
		return
	}
	cfg := game.RoomConfig{Provider: req.Provider, Model: req.Model, RoundSeconds: req.RoundSeconds}
	if cfg.Provider == "" {
		cfg.Provider = h.cfg.DefaultProvider
	}
	if cfg.Model == "" {
		cfg.Model = h.cfg.DefaultModel
	}
	if cfg.RoundSeconds <= 0 {
		cfg.RoundSeconds = h.cfg.RoundSeconds
	}
	room := h.rm.CreateRoom(req.Name, cfg)
	log.Info().Int("room", room.ID).Int("code", room.Code).Str("provider", cfg.Provider).Msg("room created")
	c.JSON(http.StatusCreated, view(room))
}

func (h *Handler) startRound(c *gin.Context) {
	room, ok := h.room(c)
	if !ok {
		return
	}
	round, err := h.sock.StartRound(room)
	switch {
	case errors.Is(err, game.ErrInvalidPhase):
		c.JSON(http.StatusConflict, gin.H{"error": "round_running"})
	case errors.Is(err, game.ErrNotEnoughPlayers):
		c.JSON(http.StatusConflict, gin.H{"error": "no_students"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"current_round": round})
	}
}
