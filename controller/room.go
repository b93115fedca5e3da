package controller

import (
	"context"
	"errors"
	"net/http"

	"runwithmate/dto"
	"runwithmate/entities"
	"runwithmate/middleware"
	"runwithmate/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Game is the engine surface the HTTP layer needs.
type Game interface {
	CreateRoom(ctx context.Context, params dto.CreateRoomRequest) (string, error)
	GetRoomInfo(ctx context.Context, roomID string) (dto.RoomInfo, error)
	GetResult(ctx context.Context, roomID string) (dto.GameFinishResponse, error)
	ActiveBoxes(ctx context.Context, roomID string) ([]entities.Box, error)
	Join(ctx context.Context, roomID, userID string, pos entities.Position) (dto.StartCheckResponse, error)
	Finish(ctx context.Context, roomID string, finishType entities.FinishType, surrenderID string) (dto.GameFinishResponse, error)
}

// Announcer pushes room events to connected sockets.
type Announcer interface {
	Broadcast(roomID, msgType string, data interface{})
	CloseRoom(roomID string)
}

type RoomController struct {
	game      Game
	announcer Announcer
	logger    *zap.Logger
}

func NewRoomController(game Game, announcer Announcer, logger *zap.Logger) *RoomController {
	return &RoomController{game: game, announcer: announcer, logger: logger}
}

type GameStartMessage struct {
	RoomID   string         `json:"roomId"`
	TimeLeft int64          `json:"timeLeft"`
	Boxes    []entities.Box `json:"boxes"`
}

func ok(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"status_code": http.StatusOK,
		"msg":         msg,
		"data":        data,
	})
}

// fail maps engine errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrRoomFull),
		errors.Is(err, service.ErrAlreadyJoined),
		errors.Is(err, service.ErrRoomNotStarted),
		errors.Is(err, service.ErrRoomNotConfigured):
		status = http.StatusConflict
	case errors.Is(err, service.ErrPlayerNotInRoom):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidPosition), errors.Is(err, service.ErrInvalidFinishType):
		status = http.StatusBadRequest
	case service.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status_code": status,
		"code":        service.ErrorCode(err),
		"error":       err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status_code": http.StatusBadRequest,
		"code":        "BAD_REQUEST",
		"error":       err.Error(),
	})
}

func (rc *RoomController) CreateRoom(c *gin.Context) {
	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	roomID, err := rc.game.CreateRoom(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "room created", dto.CreateRoomResponse{RoomID: roomID})
}

func (rc *RoomController) GetRoomInfo(c *gin.Context) {
	info, err := rc.game.GetRoomInfo(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "ok", info)
}

func (rc *RoomController) GetRoomResult(c *gin.Context) {
	res, err := rc.game.GetResult(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "ok", res)
}

// Join seats the caller. The second join starts the round and both players
// get the full box map over the socket.
func (rc *RoomController) Join(c *gin.Context) {
	var req dto.PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	roomID := c.Param("roomID")
	ctx := c.Request.Context()

	res, err := rc.game.Join(ctx, roomID, middleware.UserID(c), req.Position())
	if err != nil {
		fail(c, err)
		return
	}
	if res.Started {
		boxes, err := rc.game.ActiveBoxes(ctx, roomID)
		if err != nil {
			rc.logger.Warn("load boxes for start", zap.String("room_id", roomID), zap.Error(err))
		}
		rc.announcer.Broadcast(roomID, "game_start", GameStartMessage{RoomID: roomID, TimeLeft: res.TimeLeft, Boxes: boxes})
	}
	ok(c, "joined", res)
}

func (rc *RoomController) Surrender(c *gin.Context) {
	roomID := c.Param("roomID")
	res, err := rc.game.Finish(c.Request.Context(), roomID, entities.FinishPlayerSurrender, middleware.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	rc.AnnounceFinish(roomID, res)
	ok(c, "room finished", res)
}

// AnnounceFinish tells both players the result and hangs up their sockets.
func (rc *RoomController) AnnounceFinish(roomID string, res dto.GameFinishResponse) {
	rc.announcer.Broadcast(roomID, "game_finish", res)
	rc.announcer.CloseRoom(roomID)
}
