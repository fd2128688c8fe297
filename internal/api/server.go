package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pumparena/internal/domain"
	"pumparena/internal/infra"
	"pumparena/internal/infra/storage"
	"pumparena/internal/service"
)

// Server is the HTTP and websocket surface of the backend.
type Server struct {
	cfg   *infra.Config
	rooms *service.RoomService
	store *storage.Store
	hub   *Hub

	router *gin.Engine
}

// NewServer wires the routes. The hub passed here must be the same
// one the room service broadcasts into.
func NewServer(cfg *infra.Config, rooms *service.RoomService, store *storage.Store, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:   cfg,
		rooms: rooms,
		store: store,
		hub:   hub,
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/metrics", s.metrics)

	roomsGroup := r.Group("/rooms/:room")
	{
		roomsGroup.POST("/bets", playerIdentity(), s.placeBet)
		roomsGroup.GET("/state", playerIdentity(), s.roomState)
		roomsGroup.GET("/settlements", playerIdentity(), s.playerSettlements)
		roomsGroup.GET("/ws", playerIdentity(), s.serveWS)
	}

	ops := r.Group("/reconciliation", operatorAuth(cfg.Server.JWTSecret, cfg.Server.JWTAudience))
	{
		ops.GET("", s.reconciliation)
		ops.GET("/:key", s.reconciliationRecord)
	}

	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run blocks serving HTTP on the configured address.
func (s *Server) Run() error {
	slog.Info("http server listening", slog.String("addr", s.cfg.Server.Addr))
	return s.router.Run(s.cfg.Server.Addr)
}

type betRequest struct {
	Direction  string `json:"direction" binding:"required"`
	StakeUnits int64  `json:"stake_units" binding:"required"`
}

type betResponse struct {
	BetRef     string       `json:"bet_ref"`
	Round      uint64       `json:"round"`
	Phase      domain.Phase `json:"phase"`
	ClosesAt   int64        `json:"closes_at_unix"`
	Direction  string       `json:"direction"`
	StakeUnits int64        `json:"stake_units"`
}

func (s *Server) placeBet(c *gin.Context) {
	var req betRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}

	direction := domain.Direction(req.Direction)
	if !direction.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be up or down"})
		return
	}

	res, err := s.rooms.PlaceBet(c.Request.Context(), c.Param("room"), playerFrom(c), direction, req.StakeUnits)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if res.Err != nil {
		c.JSON(statusFor(res.Err), gin.H{
			"error": res.Err.Error(),
			"round": res.Round,
			"phase": res.Phase,
		})
		return
	}

	c.JSON(http.StatusCreated, betResponse{
		BetRef:     res.Bet.Ref,
		Round:      res.Round,
		Phase:      res.Phase,
		ClosesAt:   res.ClosesAt.Unix(),
		Direction:  string(res.Bet.Direction),
		StakeUnits: res.Bet.StakeUnits,
	})
}

func (s *Server) roomState(c *gin.Context) {
	view, err := s.rooms.View(c.Param("room"), playerFrom(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) serveWS(c *gin.Context) {
	roomID := c.Param("room")
	player := playerFrom(c)

	if err := s.rooms.Connect(roomID, player); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	err := s.hub.Serve(c.Writer, c.Request, roomID, player, func() {
		s.rooms.Disconnect(roomID, player)
	})
	if err != nil {
		s.rooms.Disconnect(roomID, player)
		slog.Warn("websocket upgrade failed",
			slog.String("room", roomID),
			slog.Any("error", err),
		)
	}
}

// playerSettlements serves the caller's settlement history from
// durable storage, newest first. Unlike the session view this covers
// rounds that have aged out of the room's in-memory retention.
func (s *Server) playerSettlements(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := s.store.SettlementsForPlayer(c.Param("room"), playerFrom(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) reconciliation(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.store.FailedSettlements(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) reconciliationRecord(c *gin.Context) {
	rec, err := s.store.SettlementByKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown settlement key"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"app":     s.cfg.App.Name,
		"version": s.cfg.App.Version,
	})
}

func (s *Server) metrics(c *gin.Context) {
	streams := make(map[string]int)
	for _, room := range s.rooms.LiveRooms() {
		if n := s.hub.Subscribers(room); n > 0 {
			streams[room] = n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"counters":           infra.GlobalMetrics.Snapshot(),
		"stream_subscribers": streams,
	})
}

// statusFor maps domain rejections to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDuplicateBet):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRoundNotOpen):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDailyLimitReached):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidStake):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomClosed):
		return http.StatusServiceUnavailable
	default:
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}
