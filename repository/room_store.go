package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"runwithmate/entities"

	"github.com/go-redis/redis/v8"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrRoomNotExist   = errors.New("room does not exist")
	ErrRoomClosed     = errors.New("room already finished")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyJoined  = errors.New("player already joined")
	ErrCreditFailed   = errors.New("box removed but balance credit failed")
	ErrNotConfigured  = errors.New("room has no time limit")
	ErrFinishing      = errors.New("room finish in progress")
	errUnexpectedCode = errors.New("unexpected script result")
)

// RoomStore is the shared ephemeral state of all rooms. Every method is a
// single round trip or a server-side script, so callers never need locks.
type RoomStore interface {
	CreateRoom(ctx context.Context, roomID string, timeLimit, betPoint int64, createdAt, deadline time.Time) error
	GetRoom(ctx context.Context, roomID string) (entities.Room, error)

	// AdmitPlayer takes a seat for userID and returns the entered count after the increment.
	AdmitPlayer(ctx context.Context, roomID, userID string) (int64, error)
	// MarkStarted sets start_time once. Only the call that set it gets true.
	MarkStarted(ctx context.Context, roomID string, startedAt, deadline time.Time) (bool, error)

	ReserveBoxIDs(ctx context.Context, roomID string, boxType entities.BoxType, n int) (int64, error)
	AddBoxes(ctx context.Context, roomID string, boxType entities.BoxType, boxes []entities.Box) error
	BoxCount(ctx context.Context, roomID string, boxType entities.BoxType) (int64, error)
	Boxes(ctx context.Context, roomID string, boxType entities.BoxType) ([]entities.Box, error)
	// CollectBox removes box and credits userID in one step. false means someone else got it.
	CollectBox(ctx context.Context, roomID, userID string, box entities.Box) (bool, error)

	SetPosition(ctx context.Context, roomID, userID string, pos entities.PlayerPosition) error
	GetPosition(ctx context.Context, roomID, userID string) (entities.PlayerPosition, bool, error)
	GetBalance(ctx context.Context, roomID, userID string) (entities.Balance, bool, error)

	ClaimFinish(ctx context.Context, roomID, token string, ttl time.Duration) (bool, error)
	ReleaseFinish(ctx context.Context, roomID, token string) error
	// Purge drops every ephemeral key of the room and leaves a tombstone behind.
	Purge(ctx context.Context, roomID string, tombstoneTTL time.Duration) error

	DueRooms(ctx context.Context, now time.Time, limit int64) ([]string, error)
	DropDeadline(ctx context.Context, roomID string) error
}

const deadlinesKey = "game_rooms:deadlines"

func roomKey(roomID string) string       { return "game_rooms:" + roomID }
func finishingKey(roomID string) string  { return "game_rooms:" + roomID + ":finishing" }
func tombstoneKey(roomID string) string  { return "game_rooms:" + roomID + ":finished" }
func positionsKey(roomID string) string  { return "player_positions:" + roomID }
func balancesKey(roomID string) string   { return "player_points:" + roomID }
func pointField(userID string) string    { return userID + ":point" }
func dopamineField(userID string) string { return userID + ":dopamine" }

func boxesKey(roomID string, t entities.BoxType) string {
	return strings.ToLower(string(t)) + "_boxes:" + roomID
}

func seqField(t entities.BoxType) string {
	return strings.ToLower(string(t)) + "_seq"
}

// admitScript: -1 not configured, -2 full, -3 finished, -4 already seated,
// -5 finish claimed.
var admitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then return -3 end
if redis.call('EXISTS', KEYS[4]) == 1 then return -5 end
if redis.call('HEXISTS', KEYS[1], 'time_limit') == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'user1_id') == ARGV[1] or redis.call('HGET', KEYS[1], 'user2_id') == ARGV[1] then
  return -4
end
local entered = tonumber(redis.call('HGET', KEYS[1], 'user_entered') or '0')
if entered >= 2 then return -2 end
entered = redis.call('HINCRBY', KEYS[1], 'user_entered', 1)
redis.call('HSET', KEYS[1], 'user' .. entered .. '_id', ARGV[1])
redis.call('HSET', KEYS[3], ARGV[2], 0, ARGV[3], 0)
return entered
`)

// startScript: -1 finish claimed, 0 already started, 1 started.
var startScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then return -1 end
if redis.call('HSETNX', KEYS[1], 'start_time', ARGV[1]) == 0 then return 0 end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// guardedIncrScript refuses to recreate a purged room hash.
var guardedIncrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
return redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
`)

var guardedSAddScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
return redis.call('SADD', KEYS[2], unpack(ARGV))
`)

var guardedHSetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('EXISTS', KEYS[3]) == 1 then return -2 end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// collectScript: -1 room gone, -2 finish claimed, 0 not a member any more,
// 1 removed and credited. Balances are frozen once a finish holds the claim.
var collectScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('EXISTS', KEYS[4]) == 1 then return -2 end
if redis.call('SREM', KEYS[2], ARGV[1]) == 0 then return 0 end
redis.call('HINCRBY', KEYS[3], ARGV[2], ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end
return 0
`)

type RedisRoomStore struct {
	rdb *redis.Client
}

func NewRedisRoomStore(rdb *redis.Client) *RedisRoomStore {
	return &RedisRoomStore{rdb: rdb}
}

// CreateRoom writes the room hash and registers its join deadline.
func (s *RedisRoomStore) CreateRoom(ctx context.Context, roomID string, timeLimit, betPoint int64, createdAt, deadline time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomKey(roomID), map[string]interface{}{
			"time_limit":   timeLimit,
			"bet_point":    betPoint,
			"user_entered": 0,
			"created_at":   createdAt.UnixMilli(),
		})
		pipe.ZAdd(ctx, deadlinesKey, &redis.Z{Score: float64(deadline.UnixMilli()), Member: roomID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("create room %s: %w", roomID, err)
	}
	return nil
}

// GetRoom reads the room hash. A room without hash is either closed
// (tombstone present) or was never created.
func (s *RedisRoomStore) GetRoom(ctx context.Context, roomID string) (entities.Room, error) {
	var (
		hash   *redis.StringStringMapCmd
		closed *redis.IntCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		hash = pipe.HGetAll(ctx, roomKey(roomID))
		closed = pipe.Exists(ctx, tombstoneKey(roomID))
		return nil
	})
	if err != nil {
		return entities.Room{}, fmt.Errorf("get room %s: %w", roomID, err)
	}
	if closed.Val() > 0 {
		return entities.Room{}, ErrRoomClosed
	}
	if len(hash.Val()) == 0 {
		return entities.Room{}, ErrRoomNotExist
	}

	var room entities.Room
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: stringToInt64HookFunc(),
		Result:     &room,
	})
	if err != nil {
		return entities.Room{}, err
	}
	if err := decoder.Decode(hash.Val()); err != nil {
		return entities.Room{}, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	room.ID = roomID
	return room, nil
}

// stringToInt64HookFunc converts Redis hash strings into integer fields.
func stringToInt64HookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Kind, to reflect.Kind, data interface{}) (interface{}, error) {
		if from == reflect.String && to == reflect.Int64 {
			if data.(string) == "" {
				return int64(0), nil
			}
			return strconv.ParseInt(data.(string), 10, 64)
		}
		return data, nil
	}
}

func (s *RedisRoomStore) AdmitPlayer(ctx context.Context, roomID, userID string) (int64, error) {
	keys := []string{roomKey(roomID), tombstoneKey(roomID), balancesKey(roomID), finishingKey(roomID)}
	code, err := admitScript.Run(ctx, s.rdb, keys, userID, pointField(userID), dopamineField(userID)).Int64()
	if err != nil {
		return 0, fmt.Errorf("admit %s into %s: %w", userID, roomID, err)
	}
	switch code {
	case -1:
		return 0, ErrNotConfigured
	case -2:
		return 0, ErrRoomFull
	case -3:
		return 0, ErrRoomClosed
	case -4:
		return 0, ErrAlreadyJoined
	case -5:
		return 0, ErrFinishing
	}
	return code, nil
}

func (s *RedisRoomStore) MarkStarted(ctx context.Context, roomID string, startedAt, deadline time.Time) (bool, error) {
	keys := []string{roomKey(roomID), deadlinesKey, finishingKey(roomID)}
	code, err := startScript.Run(ctx, s.rdb, keys, startedAt.UnixMilli(), deadline.UnixMilli(), roomID).Int64()
	if err != nil {
		return false, fmt.Errorf("start room %s: %w", roomID, err)
	}
	if code < 0 {
		return false, ErrFinishing
	}
	return code == 1, nil
}

// ReserveBoxIDs bumps the per-type id sequence by n and returns the first id of the block.
func (s *RedisRoomStore) ReserveBoxIDs(ctx context.Context, roomID string, boxType entities.BoxType, n int) (int64, error) {
	last, err := guardedIncrScript.Run(ctx, s.rdb, []string{roomKey(roomID)}, seqField(boxType), n).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve %s box ids in %s: %w", boxType, roomID, err)
	}
	if last < 0 {
		return 0, ErrRoomNotExist
	}
	return last - int64(n), nil
}

func (s *RedisRoomStore) AddBoxes(ctx context.Context, roomID string, boxType entities.BoxType, boxes []entities.Box) error {
	if len(boxes) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(boxes))
	for _, b := range boxes {
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode box %d: %w", b.ID, err)
		}
		members = append(members, string(raw))
	}
	keys := []string{roomKey(roomID), boxesKey(roomID, boxType)}
	code, err := guardedSAddScript.Run(ctx, s.rdb, keys, members...).Int64()
	if err != nil {
		return fmt.Errorf("add %s boxes to %s: %w", boxType, roomID, err)
	}
	if code < 0 {
		return ErrRoomNotExist
	}
	return nil
}

func (s *RedisRoomStore) BoxCount(ctx context.Context, roomID string, boxType entities.BoxType) (int64, error) {
	n, err := s.rdb.SCard(ctx, boxesKey(roomID, boxType)).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s boxes in %s: %w", boxType, roomID, err)
	}
	return n, nil
}

// Boxes returns the active boxes of one type ordered by id.
func (s *RedisRoomStore) Boxes(ctx context.Context, roomID string, boxType entities.BoxType) ([]entities.Box, error) {
	members, err := s.rdb.SMembers(ctx, boxesKey(roomID, boxType)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s boxes in %s: %w", boxType, roomID, err)
	}
	boxes := make([]entities.Box, 0, len(members))
	for _, m := range members {
		var b entities.Box
		if err := json.Unmarshal([]byte(m), &b); err != nil {
			return nil, fmt.Errorf("decode box %q: %w", m, err)
		}
		boxes = append(boxes, b)
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].ID < boxes[j].ID })
	return boxes, nil
}

func (s *RedisRoomStore) CollectBox(ctx context.Context, roomID, userID string, box entities.Box) (bool, error) {
	member, err := json.Marshal(box)
	if err != nil {
		return false, fmt.Errorf("encode box %d: %w", box.ID, err)
	}
	field := pointField(userID)
	if box.BoxType == entities.BoxTypeDopamine {
		field = dopamineField(userID)
	}
	keys := []string{roomKey(roomID), boxesKey(roomID, box.BoxType), balancesKey(roomID), finishingKey(roomID)}
	code, err := collectScript.Run(ctx, s.rdb, keys, string(member), field, box.Amount).Int64()
	if err != nil {
		var rerr redis.Error
		if errors.As(err, &rerr) {
			return false, fmt.Errorf("%w: box %s/%d for %s: %v", ErrCreditFailed, box.BoxType, box.ID, userID, err)
		}
		return false, fmt.Errorf("collect box %d in %s: %w", box.ID, roomID, err)
	}
	switch code {
	case -1:
		return false, ErrRoomNotExist
	case -2:
		return false, ErrFinishing
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errUnexpectedCode
}

func (s *RedisRoomStore) SetPosition(ctx context.Context, roomID, userID string, pos entities.PlayerPosition) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	keys := []string{roomKey(roomID), positionsKey(roomID), finishingKey(roomID)}
	code, err := guardedHSetScript.Run(ctx, s.rdb, keys, userID, string(raw)).Int64()
	if err != nil {
		return fmt.Errorf("set position of %s in %s: %w", userID, roomID, err)
	}
	switch code {
	case -1:
		return ErrRoomNotExist
	case -2:
		return ErrFinishing
	}
	return nil
}

func (s *RedisRoomStore) GetPosition(ctx context.Context, roomID, userID string) (entities.PlayerPosition, bool, error) {
	raw, err := s.rdb.HGet(ctx, positionsKey(roomID), userID).Result()
	if err == redis.Nil {
		return entities.PlayerPosition{}, false, nil
	}
	if err != nil {
		return entities.PlayerPosition{}, false, fmt.Errorf("get position of %s in %s: %w", userID, roomID, err)
	}
	var pos entities.PlayerPosition
	if err := json.Unmarshal([]byte(raw), &pos); err != nil {
		return entities.PlayerPosition{}, false, fmt.Errorf("decode position of %s: %w", userID, err)
	}
	return pos, true, nil
}

// GetBalance returns ok=false when either currency field is absent.
func (s *RedisRoomStore) GetBalance(ctx context.Context, roomID, userID string) (entities.Balance, bool, error) {
	vals, err := s.rdb.HMGet(ctx, balancesKey(roomID), pointField(userID), dopamineField(userID)).Result()
	if err != nil {
		return entities.Balance{}, false, fmt.Errorf("get balance of %s in %s: %w", userID, roomID, err)
	}
	var nums [2]int64
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return entities.Balance{}, false, nil
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return entities.Balance{}, false, fmt.Errorf("balance of %s is corrupt: %w", userID, err)
		}
		nums[i] = n
	}
	return entities.Balance{Point: nums[0], Dopamine: nums[1]}, true, nil
}

func (s *RedisRoomStore) ClaimFinish(ctx context.Context, roomID, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, finishingKey(roomID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim finish of %s: %w", roomID, err)
	}
	return ok, nil
}

func (s *RedisRoomStore) ReleaseFinish(ctx context.Context, roomID, token string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{finishingKey(roomID)}, token).Err(); err != nil {
		return fmt.Errorf("release finish of %s: %w", roomID, err)
	}
	return nil
}

func (s *RedisRoomStore) Purge(ctx context.Context, roomID string, tombstoneTTL time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			roomKey(roomID),
			boxesKey(roomID, entities.BoxTypePoint),
			boxesKey(roomID, entities.BoxTypeDopamine),
			positionsKey(roomID),
			balancesKey(roomID),
			finishingKey(roomID),
		)
		pipe.Set(ctx, tombstoneKey(roomID), "1", tombstoneTTL)
		pipe.ZRem(ctx, deadlinesKey, roomID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge room %s: %w", roomID, err)
	}
	return nil
}

// DueRooms lists rooms whose deadline is at or before now, oldest first.
func (s *RedisRoomStore) DueRooms(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due rooms: %w", err)
	}
	return ids, nil
}

func (s *RedisRoomStore) DropDeadline(ctx context.Context, roomID string) error {
	if err := s.rdb.ZRem(ctx, deadlinesKey, roomID).Err(); err != nil {
		return fmt.Errorf("drop deadline of %s: %w", roomID, err)
	}
	return nil
}
