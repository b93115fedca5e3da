package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"runwithmate/dto"
	"runwithmate/entities"
	"runwithmate/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateRoom configures a new room and returns its id.
func (s *GameService) CreateRoom(ctx context.Context, params dto.CreateRoomRequest) (string, error) {
	if params.TimeLimit <= 0 {
		return "", fmt.Errorf("time limit must be positive")
	}
	// 8-char room id, same shape the lobby hands out
	roomID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	now := s.now()
	deadline := now.Add(s.cfg.JoinTimeout)
	if err := s.rooms.CreateRoom(ctx, roomID, params.TimeLimit, params.BetPoint, now, deadline); err != nil {
		return "", mapStoreErr(err)
	}
	s.logger.Info("room created",
		zap.String("room_id", roomID),
		zap.Int64("time_limit", params.TimeLimit),
		zap.Int64("bet_point", params.BetPoint),
	)
	return roomID, nil
}

func (s *GameService) GetRoomInfo(ctx context.Context, roomID string) (dto.RoomInfo, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return dto.RoomInfo{}, mapStoreErr(err)
	}
	info := dto.RoomInfo{
		RoomID:      roomID,
		Status:      room.Status(),
		UserEntered: room.UserEntered,
		User1ID:     room.User1ID,
		User2ID:     room.User2ID,
		BetPoint:    room.BetPoint,
		TimeLimit:   room.TimeLimit,
		TimeLeft:    room.TimeLeft(s.now()),
	}
	if info.DopamineBoxes, err = s.rooms.BoxCount(ctx, roomID, entities.BoxTypeDopamine); err != nil {
		return info, mapStoreErr(err)
	}
	if info.PointBoxes, err = s.rooms.BoxCount(ctx, roomID, entities.BoxTypePoint); err != nil {
		return info, mapStoreErr(err)
	}
	return info, nil
}

// ActiveBoxes lists every box still on the map, dopamine first.
func (s *GameService) ActiveBoxes(ctx context.Context, roomID string) ([]entities.Box, error) {
	var all []entities.Box
	for _, t := range entities.BoxTypes {
		boxes, err := s.rooms.Boxes(ctx, roomID, t)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		all = append(all, boxes...)
	}
	return all, nil
}

// GetResult reads back the settlement of a finished room.
func (s *GameService) GetResult(ctx context.Context, roomID string) (dto.GameFinishResponse, error) {
	st, err := s.settlements.Get(ctx, roomID)
	if errors.Is(err, repository.ErrSettlementNotFound) {
		return dto.GameFinishResponse{}, ErrRoomNotFound
	}
	if err != nil {
		return dto.GameFinishResponse{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return dto.FinishResponseFromSettlement(st), nil
}
