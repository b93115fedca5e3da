package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"runwithmate/dto"
	"runwithmate/entities"
	"runwithmate/middleware"
	"runwithmate/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	MsgPosition   = "position"
	MsgCollect    = "collect"
	MsgBoxRemoved = "box_removed"
	MsgGameStart  = "game_start"
	MsgGameFinish = "game_finish"
	MsgError      = "error"
)

// GameAPI is the part of the engine the socket loop drives.
type GameAPI interface {
	GetRoomInfo(ctx context.Context, roomID string) (dto.RoomInfo, error)
	UpdatePosition(ctx context.Context, roomID, userID string, pos entities.Position) (dto.PositionUpdateResponse, error)
	Collect(ctx context.Context, roomID, userID string, pos entities.Position) (dto.BoxRemoveResponse, error)
}

type Handler struct {
	hub    *Hub
	game   GameAPI
	logger *zap.Logger
}

func NewHandler(hub *Hub, game GameAPI, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, game: game, logger: logger}
}

type errorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// HandleWebSocket upgrades a seated player's request and runs its read loop.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	roomID := c.Query("roomId")
	userID := middleware.UserID(c)
	if roomID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing roomId"})
		return
	}
	info, err := h.game.GetRoomInfo(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": service.ErrorCode(err)})
		return
	}
	if info.User1ID != userID && info.User2ID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": service.ErrPlayerNotInRoom.Error(), "code": service.ErrorCode(service.ErrPlayerNotInRoom)})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	defer conn.Close()

	h.hub.join(roomID, PlayerConn{PlayerID: userID, Conn: conn})
	defer h.hub.leave(roomID, conn)
	h.logger.Info("player connected",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.Int("conns", h.hub.PlayerCount(roomID)),
	)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("read loop ended", zap.String("room_id", roomID), zap.String("user_id", userID), zap.Error(err))
			return
		}
		h.dispatch(c.Request.Context(), roomID, userID, conn, raw)
	}
}

// dispatch handles one inbound frame. Failures go back to the sender only.
func (h *Handler) dispatch(ctx context.Context, roomID, userID string, conn ConnInterface, raw []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.replyBadMessage(conn, "malformed message")
		return
	}
	msgType, _ := msg["type"].(string)
	if msgType != MsgPosition && msgType != MsgCollect {
		h.replyBadMessage(conn, "unknown message type: "+msgType)
		return
	}

	var req dto.PositionRequest
	if err := mapstructure.Decode(msg, &req); err != nil || req.Lat == nil || req.Lng == nil {
		h.replyError(conn, service.ErrInvalidPosition)
		return
	}

	switch msgType {
	case MsgPosition:
		res, err := h.game.UpdatePosition(ctx, roomID, userID, req.Position())
		if err != nil {
			h.replyError(conn, err)
			return
		}
		h.hub.Broadcast(roomID, MsgPosition, res)
	case MsgCollect:
		res, err := h.game.Collect(ctx, roomID, userID, req.Position())
		// boxes taken before a failure are gone for both players
		if len(res.RemovedBoxes) > 0 {
			h.hub.Broadcast(roomID, MsgBoxRemoved, res)
		}
		if err != nil {
			h.replyError(conn, err)
		}
	}
}

func (h *Handler) replyError(conn ConnInterface, err error) {
	h.reply(conn, errorPayload{Code: service.ErrorCode(err), Message: err.Error(), Retryable: service.IsTransient(err)})
}

func (h *Handler) replyBadMessage(conn ConnInterface, message string) {
	h.reply(conn, errorPayload{Code: "BAD_MESSAGE", Message: message})
}

func (h *Handler) reply(conn ConnInterface, payload errorPayload) {
	if err := h.hub.send(conn, MsgError, payload); err != nil {
		h.logger.Debug("error reply failed", zap.Error(err))
	}
}
