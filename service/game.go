package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"runwithmate/config"
	"runwithmate/dto"
	"runwithmate/entities"
	"runwithmate/repository"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type GameService struct {
	rooms       repository.RoomStore
	settlements repository.SettlementStore
	boxes       *BoxGenerator
	cfg         config.GameConfig
	logger      *zap.Logger
	now         func() time.Time
}

type Option func(*GameService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

// WithSeed fixes the box generator seed.
func WithSeed(seed uint64) Option {
	return func(s *GameService) {
		s.boxes = NewBoxGenerator(s.boxSpec(), seed)
	}
}

func NewGameService(rooms repository.RoomStore, settlements repository.SettlementStore, cfg config.GameConfig, logger *zap.Logger, opts ...Option) *GameService {
	s := &GameService{
		rooms:       rooms,
		settlements: settlements,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
	s.boxes = NewBoxGenerator(s.boxSpec(), uint64(time.Now().UnixNano()))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GameService) boxSpec() BoxSpec {
	return BoxSpec{Range: s.cfg.BoxRange, Step: s.cfg.BoxStep, Amount: s.cfg.BoxAmount}
}

func (s *GameService) boxCount(t entities.BoxType) int {
	if t == entities.BoxTypeDopamine {
		return s.cfg.DopamineBoxes
	}
	return s.cfg.PointBoxes
}

// Join seats userID, spawns the player's box batch around pos and starts the
// room when the second seat is taken.
func (s *GameService) Join(ctx context.Context, roomID, userID string, pos entities.Position) (dto.StartCheckResponse, error) {
	var res dto.StartCheckResponse
	if !ValidPosition(pos) {
		return res, ErrInvalidPosition
	}
	log := s.logger.With(zap.String("room_id", roomID), zap.String("user_id", userID))

	entered, err := s.rooms.AdmitPlayer(ctx, roomID, userID)
	if err != nil {
		return res, s.admitErr(ctx, roomID, mapStoreErr(err))
	}
	now := s.now()
	if err := s.rooms.SetPosition(ctx, roomID, userID, entities.PlayerPosition{Position: pos, At: now.UnixMilli()}); err != nil {
		return res, mapStoreErr(err)
	}

	for _, t := range entities.BoxTypes {
		n := s.boxCount(t)
		startID, err := s.rooms.ReserveBoxIDs(ctx, roomID, t, n)
		if err != nil {
			return res, mapStoreErr(err)
		}
		batch := s.boxes.Generate(t, n, pos, startID)
		if err := s.rooms.AddBoxes(ctx, roomID, t, batch); err != nil {
			return res, mapStoreErr(err)
		}
		if t == entities.BoxTypeDopamine {
			res.DopamineBoxes = batch
		} else {
			res.PointBoxes = batch
		}
	}

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return res, mapStoreErr(err)
	}
	res.TimeLeft = room.TimeLimit

	if entered == 2 {
		deadline := now.Add(time.Duration(room.TimeLimit) * time.Second)
		res.Started, err = s.rooms.MarkStarted(ctx, roomID, now, deadline)
		if err != nil {
			return res, mapStoreErr(err)
		}
	}
	log.Info("player joined", zap.Int64("entered", entered), zap.Bool("started", res.Started))
	return res, nil
}

// admitErr reports a settled room as not found once its tombstone has expired.
func (s *GameService) admitErr(ctx context.Context, roomID string, err error) error {
	if !errors.Is(err, ErrRoomNotConfigured) {
		return err
	}
	if _, getErr := s.settlements.Get(ctx, roomID); getErr == nil {
		return ErrRoomNotFound
	}
	return err
}

// loadRunningRoom returns the room when userID is seated and the round has begun.
func (s *GameService) loadRunningRoom(ctx context.Context, roomID, userID string) (entities.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return room, mapStoreErr(err)
	}
	if !room.HasMember(userID) {
		return room, ErrPlayerNotInRoom
	}
	if !room.Started() {
		return room, ErrRoomNotStarted
	}
	return room, nil
}

// UpdatePosition stores the latest position of userID, last write wins.
func (s *GameService) UpdatePosition(ctx context.Context, roomID, userID string, pos entities.Position) (dto.PositionUpdateResponse, error) {
	res := dto.PositionUpdateResponse{UserID: userID, Position: pos}
	if !ValidPosition(pos) {
		return res, ErrInvalidPosition
	}
	room, err := s.loadRunningRoom(ctx, roomID, userID)
	if err != nil {
		return res, err
	}
	now := s.now()

	if s.cfg.MaxSpeedMps > 0 {
		prev, ok, err := s.rooms.GetPosition(ctx, roomID, userID)
		if err != nil {
			return res, mapStoreErr(err)
		}
		if ok && !s.plausibleMove(prev, pos, now) {
			s.logger.Warn("position rejected",
				zap.String("room_id", roomID),
				zap.String("user_id", userID),
				zap.Float64("distance_m", DistanceMeters(prev.Position, pos)),
			)
			return res, ErrImplausibleMove
		}
	}

	if err := s.rooms.SetPosition(ctx, roomID, userID, entities.PlayerPosition{Position: pos, At: now.UnixMilli()}); err != nil {
		return res, mapStoreErr(err)
	}
	res.TimeLeft = room.TimeLeft(now)
	return res, nil
}

// plausibleMove allows the collect radius as GPS jitter on top of max speed.
func (s *GameService) plausibleMove(prev entities.PlayerPosition, next entities.Position, now time.Time) bool {
	elapsed := math.Max(0, float64(now.UnixMilli()-prev.At)/1000)
	allowed := s.cfg.MaxSpeedMps*elapsed + s.cfg.CollectRadiusM
	return DistanceMeters(prev.Position, next) <= allowed
}

// Collect takes every active box within the collect radius of pos. Boxes that
// another request removed first are skipped without error. A failed credit
// does not stop the sweep; RemovedBoxes always lists what left the map, even
// when an error is returned.
func (s *GameService) Collect(ctx context.Context, roomID, userID string, pos entities.Position) (dto.BoxRemoveResponse, error) {
	res := dto.BoxRemoveResponse{UserID: userID, RemovedBoxes: []entities.Box{}}
	if !ValidPosition(pos) {
		return res, ErrInvalidPosition
	}
	if _, err := s.loadRunningRoom(ctx, roomID, userID); err != nil {
		return res, err
	}

	var creditErrs error
	for _, t := range entities.BoxTypes {
		boxes, err := s.rooms.Boxes(ctx, roomID, t)
		if err != nil {
			return res, multierr.Append(creditErrs, mapStoreErr(err))
		}
		for _, box := range boxes {
			if DistanceMeters(pos, box.Position()) > s.cfg.CollectRadiusM {
				continue
			}
			removed, err := s.rooms.CollectBox(ctx, roomID, userID, box)
			if err != nil {
				err = mapStoreErr(err)
				if !errors.Is(err, ErrCreditFailed) {
					return res, multierr.Append(creditErrs, err)
				}
				// the box is already off the map
				s.logger.Error("box lost on credit",
					zap.String("room_id", roomID),
					zap.String("user_id", userID),
					zap.Int64("box_id", box.ID),
					zap.String("box_type", string(box.BoxType)),
					zap.Error(err),
				)
				res.RemovedBoxes = append(res.RemovedBoxes, box)
				creditErrs = multierr.Append(creditErrs, err)
				continue
			}
			if !removed {
				continue
			}
			res.RemovedBoxes = append(res.RemovedBoxes, box)
			s.logger.Debug("box collected",
				zap.String("room_id", roomID),
				zap.String("user_id", userID),
				zap.Int64("box_id", box.ID),
				zap.String("box_type", string(box.BoxType)),
			)
		}
	}
	return res, creditErrs
}

// Finish settles the room. The settlement is persisted before any ephemeral
// state is dropped; on persist failure the room stays intact for a retry.
// While a finish holds the claim, balances are frozen: collects, position
// updates and joins fail with ErrRoomFinishing. A second finish racing the
// first also gets ErrRoomFinishing rather than waiting for the result; once
// the first completes, later calls see ErrRoomNotFound and the result is
// available from GetResult.
func (s *GameService) Finish(ctx context.Context, roomID string, finishType entities.FinishType, surrenderID string) (dto.GameFinishResponse, error) {
	var res dto.GameFinishResponse
	if !finishType.Valid() {
		return res, ErrInvalidFinishType
	}

	token := uuid.NewString()
	claimed, err := s.rooms.ClaimFinish(ctx, roomID, token, s.cfg.FinishLockTTL)
	if err != nil {
		return res, mapStoreErr(err)
	}
	if !claimed {
		return res, ErrRoomFinishing
	}
	done := false
	defer func() {
		if done {
			return
		}
		if err := s.rooms.ReleaseFinish(context.WithoutCancel(ctx), roomID, token); err != nil {
			s.logger.Warn("release finish claim", zap.String("room_id", roomID), zap.Error(err))
		}
	}()

	// read after the claim so a finish that just completed is seen
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return res, mapStoreErr(err)
	}
	if finishType == entities.FinishPlayerSurrender && !room.HasMember(surrenderID) {
		return res, ErrPlayerNotInRoom
	}

	settlement, err := s.settle(ctx, room, finishType, surrenderID)
	if err != nil {
		return res, err
	}

	err = s.settlements.Save(ctx, settlement)
	switch {
	case errors.Is(err, repository.ErrSettlementExists):
		// an earlier attempt persisted but failed to purge
		s.logger.Warn("settlement already recorded", zap.String("room_id", roomID))
		if prev, getErr := s.settlements.Get(ctx, roomID); getErr == nil {
			settlement = prev
		}
	case err != nil:
		s.logger.Error("settlement persist failed", zap.String("room_id", roomID), zap.Error(err))
		return res, fmt.Errorf("%w: %v", ErrSettlementPersist, err)
	}

	if err := s.rooms.Purge(ctx, roomID, s.cfg.TombstoneTTL); err != nil {
		return res, mapStoreErr(err)
	}
	done = true

	s.logger.Info("room finished",
		zap.String("room_id", roomID),
		zap.String("finish_type", string(finishType)),
		zap.String("winner_id", settlement.WinnerID),
	)
	return dto.FinishResponseFromSettlement(settlement), nil
}

// settle reads both balances and decides the winner. user1 wins dopamine ties;
// a surrender always loses.
func (s *GameService) settle(ctx context.Context, room entities.Room, finishType entities.FinishType, surrenderID string) (entities.Settlement, error) {
	if room.User1ID == "" || room.User2ID == "" {
		return entities.Settlement{}, fmt.Errorf("%w: room %s has %d seated", ErrPlayerStateMissing, room.ID, room.UserEntered)
	}
	seats := []string{room.User1ID, room.User2ID}
	users := make([]entities.SettlementUser, 0, len(seats))
	for _, userID := range seats {
		bal, ok, err := s.rooms.GetBalance(ctx, room.ID, userID)
		if err != nil {
			return entities.Settlement{}, mapStoreErr(err)
		}
		if !ok {
			return entities.Settlement{}, fmt.Errorf("%w: no balance for %s", ErrPlayerStateMissing, userID)
		}
		users = append(users, entities.SettlementUser{UserID: userID, Point: bal.Point, Dopamine: bal.Dopamine})
	}

	userOneWins := users[0].Dopamine >= users[1].Dopamine
	if finishType == entities.FinishPlayerSurrender {
		userOneWins = surrenderID != room.User1ID
	}
	winner := room.User2ID
	if userOneWins {
		winner = room.User1ID
	}

	return entities.Settlement{
		RoomID:     room.ID,
		BetPoint:   room.BetPoint,
		FinishType: finishType,
		WinnerID:   winner,
		SettledAt:  s.now(),
		UsersInfo:  users,
	}, nil
}

// Discard drops a room nobody else joined. A room that started in the
// meantime is left alone and ErrRoomStarted is returned.
func (s *GameService) Discard(ctx context.Context, roomID string) error {
	return s.discard(ctx, roomID, true)
}

func (s *GameService) discard(ctx context.Context, roomID string, waitingOnly bool) error {
	token := uuid.NewString()
	claimed, err := s.rooms.ClaimFinish(ctx, roomID, token, s.cfg.FinishLockTTL)
	if err != nil {
		return mapStoreErr(err)
	}
	if !claimed {
		return ErrRoomFinishing
	}
	// the claim blocks admission and start, so this read is final
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		_ = s.rooms.ReleaseFinish(ctx, roomID, token)
		return mapStoreErr(err)
	}
	if waitingOnly && room.Started() {
		_ = s.rooms.ReleaseFinish(ctx, roomID, token)
		return ErrRoomStarted
	}
	if err := s.rooms.Purge(ctx, roomID, s.cfg.TombstoneTTL); err != nil {
		_ = s.rooms.ReleaseFinish(ctx, roomID, token)
		return mapStoreErr(err)
	}
	s.logger.Info("room discarded", zap.String("room_id", roomID))
	return nil
}
