package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"runwithmate/dto"
	"runwithmate/entities"
	"runwithmate/service"

	"go.uber.org/zap"
)

type recordConn struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	closed bool
}

func (r *recordConn) WriteMessage(_ int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.msgs = append(r.msgs, data)
	return nil
}

func (r *recordConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordConn) last(t *testing.T) map[string]interface{} {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		t.Fatal("no message written")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(r.msgs[len(r.msgs)-1], &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func (r *recordConn) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fakeGame struct {
	posErr     error
	collected  []entities.Box
	lastPos    entities.Position
	collectErr error
}

func (f *fakeGame) GetRoomInfo(_ context.Context, roomID string) (dto.RoomInfo, error) {
	return dto.RoomInfo{RoomID: roomID, User1ID: "u1", User2ID: "u2"}, nil
}

func (f *fakeGame) UpdatePosition(_ context.Context, _, userID string, pos entities.Position) (dto.PositionUpdateResponse, error) {
	f.lastPos = pos
	return dto.PositionUpdateResponse{UserID: userID, Position: pos, TimeLeft: 30}, f.posErr
}

func (f *fakeGame) Collect(_ context.Context, _, userID string, pos entities.Position) (dto.BoxRemoveResponse, error) {
	f.lastPos = pos
	return dto.BoxRemoveResponse{UserID: userID, RemovedBoxes: f.collected}, f.collectErr
}

func newTestHandler(game GameAPI) (*Handler, *recordConn, *recordConn) {
	hub := NewHub(zap.NewNop())
	a, b := &recordConn{}, &recordConn{}
	hub.join("r1", PlayerConn{PlayerID: "u1", Conn: a})
	hub.join("r1", PlayerConn{PlayerID: "u2", Conn: b})
	return NewHandler(hub, game, zap.NewNop()), a, b
}

func TestBroadcastDropsBrokenConn(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ok, broken := &recordConn{}, &recordConn{fail: true}
	hub.join("r1", PlayerConn{PlayerID: "u1", Conn: ok})
	hub.join("r1", PlayerConn{PlayerID: "u2", Conn: broken})

	hub.Broadcast("r1", MsgGameStart, map[string]int{"timeLeft": 60})

	if got := ok.last(t)["type"]; got != MsgGameStart {
		t.Fatalf("type = %v", got)
	}
	if !broken.closed {
		t.Fatal("broken conn not closed")
	}
	if n := hub.PlayerCount("r1"); n != 1 {
		t.Fatalf("conns = %d, want 1", n)
	}
}

func TestCloseRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := &recordConn{}
	hub.join("r1", PlayerConn{PlayerID: "u1", Conn: a})
	hub.CloseRoom("r1")
	if !a.closed || hub.PlayerCount("r1") != 0 {
		t.Fatal("room not closed")
	}
}

func TestDispatchPositionBroadcasts(t *testing.T) {
	game := &fakeGame{}
	h, a, b := newTestHandler(game)

	h.dispatch(context.Background(), "r1", "u1", a, []byte(`{"type":"position","lat":37.5,"lng":127}`))

	if game.lastPos != (entities.Position{Lat: 37.5, Lng: 127}) {
		t.Fatalf("pos = %+v", game.lastPos)
	}
	for _, c := range []*recordConn{a, b} {
		m := c.last(t)
		if m["type"] != MsgPosition {
			t.Fatalf("type = %v", m["type"])
		}
		data := m["data"].(map[string]interface{})
		if data["userId"] != "u1" {
			t.Fatalf("userId = %v", data["userId"])
		}
	}
}

func TestDispatchCollectOnlyAnnouncesRemovals(t *testing.T) {
	game := &fakeGame{}
	h, a, b := newTestHandler(game)

	h.dispatch(context.Background(), "r1", "u1", a, []byte(`{"type":"collect","lat":1,"lng":2}`))
	if a.count() != 0 || b.count() != 0 {
		t.Fatal("empty collect was announced")
	}

	game.collected = []entities.Box{{ID: 3, BoxType: entities.BoxTypePoint, Amount: 10}}
	h.dispatch(context.Background(), "r1", "u1", a, []byte(`{"type":"collect","lat":1,"lng":2}`))
	if got := b.last(t)["type"]; got != MsgBoxRemoved {
		t.Fatalf("type = %v", got)
	}
}

func TestDispatchErrorsGoToSender(t *testing.T) {
	game := &fakeGame{posErr: service.ErrRoomNotStarted}
	h, a, b := newTestHandler(game)

	h.dispatch(context.Background(), "r1", "u1", a, []byte(`{"type":"position","lat":1,"lng":2}`))

	m := a.last(t)
	if m["type"] != MsgError {
		t.Fatalf("type = %v", m["type"])
	}
	if code := m["data"].(map[string]interface{})["code"]; code != "ROOM_NOT_STARTED" {
		t.Fatalf("code = %v", code)
	}
	if b.count() != 0 {
		t.Fatal("error leaked to other player")
	}
}

func TestDispatchRejectsBadFrames(t *testing.T) {
	cases := map[string]struct {
		raw  string
		code string
	}{
		"not json":     {`{`, "BAD_MESSAGE"},
		"unknown type": {`{"type":"dance","lat":1,"lng":2}`, "BAD_MESSAGE"},
		"missing lng":  {`{"type":"position","lat":1}`, "INVALID_POSITION"},
		"string lat":   {`{"type":"collect","lat":"x","lng":2}`, "INVALID_POSITION"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h, a, _ := newTestHandler(&fakeGame{})
			h.dispatch(context.Background(), "r1", "u1", a, []byte(tc.raw))
			if code := a.last(t)["data"].(map[string]interface{})["code"]; code != tc.code {
				t.Fatalf("code = %v, want %s", code, tc.code)
			}
		})
	}
}

func TestDispatchCollectAnnouncesRemovalsBeforeError(t *testing.T) {
	game := &fakeGame{
		collected:  []entities.Box{{ID: 1, BoxType: entities.BoxTypeDopamine, Amount: 10}},
		collectErr: service.ErrCreditFailed,
	}
	h, a, b := newTestHandler(game)

	h.dispatch(context.Background(), "r1", "u1", a, []byte(`{"type":"collect","lat":1,"lng":2}`))

	if got := b.last(t)["type"]; got != MsgBoxRemoved {
		t.Fatalf("other player got %v", got)
	}
	m := a.last(t)
	if m["type"] != MsgError {
		t.Fatalf("sender last = %v", m["type"])
	}
	if code := m["data"].(map[string]interface{})["code"]; code != "CREDIT_FAILED" {
		t.Fatalf("code = %v", code)
	}
	if a.count() != 2 {
		t.Fatalf("sender got %d messages", a.count())
	}
}
