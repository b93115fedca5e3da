package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ConnInterface interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// PlayerConn is one live socket of a player in a room.
type PlayerConn struct {
	PlayerID string
	Conn     ConnInterface
}

// Hub fans room announcements out to connected players. It only tracks
// sockets; room state lives in Redis.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string][]PlayerConn
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{rooms: make(map[string][]PlayerConn), logger: logger}
}

type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// buildMessage wraps data in the {type, data} envelope clients expect.
func buildMessage(msgType string, data interface{}) []byte {
	msg, _ := json.Marshal(envelope{Type: msgType, Data: data})
	return msg
}

func (h *Hub) join(roomID string, pc PlayerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[roomID] = append(h.rooms[roomID], pc)
}

// leave drops conn from the room; empty rooms are forgotten.
func (h *Hub) leave(roomID string, conn ConnInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(roomID, func(pc PlayerConn) bool { return pc.Conn == conn })
}

func (h *Hub) removeLocked(roomID string, drop func(PlayerConn) bool) {
	kept := h.rooms[roomID][:0]
	for _, pc := range h.rooms[roomID] {
		if !drop(pc) {
			kept = append(kept, pc)
		}
	}
	if len(kept) == 0 {
		delete(h.rooms, roomID)
		return
	}
	h.rooms[roomID] = kept
}

// Broadcast sends one message to every socket in the room. Sockets that fail
// the write are closed and removed.
func (h *Hub) Broadcast(roomID, msgType string, data interface{}) {
	msg := buildMessage(msgType, data)

	h.mu.Lock()
	defer h.mu.Unlock()
	var failed []ConnInterface
	for _, pc := range h.rooms[roomID] {
		if err := pc.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Info("broadcast failed, dropping conn",
				zap.String("room_id", roomID),
				zap.String("user_id", pc.PlayerID),
				zap.Error(err),
			)
			_ = pc.Conn.Close()
			failed = append(failed, pc.Conn)
		}
	}
	for _, conn := range failed {
		conn := conn
		h.removeLocked(roomID, func(pc PlayerConn) bool { return pc.Conn == conn })
	}
}

// send writes to a single socket under the hub lock so it never interleaves
// with a broadcast.
func (h *Hub) send(conn ConnInterface, msgType string, data interface{}) error {
	msg := buildMessage(msgType, data)
	h.mu.Lock()
	defer h.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// CloseRoom closes every socket of a finished room.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, pc := range h.rooms[roomID] {
		_ = pc.Conn.Close()
	}
	delete(h.rooms, roomID)
}

func (h *Hub) PlayerCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}
