package service

import (
	"context"
	"errors"
	"time"

	"runwithmate/dto"
	"runwithmate/entities"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const sweepBatch = 100

// FinishListener is told about rooms the sweeper settled.
type FinishListener func(roomID string, res dto.GameFinishResponse)

// Sweeper settles rooms whose round ran out without anyone calling finish,
// and drops rooms that never got a second player.
type Sweeper struct {
	game     *GameService
	interval time.Duration
	onFinish FinishListener
}

func NewSweeper(game *GameService, interval time.Duration, onFinish FinishListener) *Sweeper {
	return &Sweeper{game: game, interval: interval, onFinish: onFinish}
}

func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.SweepOnce(ctx); err != nil {
				w.game.logger.Warn("room sweep", zap.Error(err))
			}
		}
	}
}

// SweepOnce handles every room due at the current time.
func (w *Sweeper) SweepOnce(ctx context.Context) error {
	rooms := w.game.rooms
	due, err := rooms.DueRooms(ctx, w.game.now(), sweepBatch)
	if err != nil {
		return mapStoreErr(err)
	}

	var errs error
	for _, roomID := range due {
		room, err := rooms.GetRoom(ctx, roomID)
		if err != nil {
			if errors.Is(mapStoreErr(err), ErrRoomNotFound) {
				errs = multierr.Append(errs, rooms.DropDeadline(ctx, roomID))
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}

		if !room.Started() {
			err = w.game.Discard(ctx, roomID)
		} else {
			var res dto.GameFinishResponse
			res, err = w.game.Finish(ctx, roomID, entities.FinishTimeExpired, "")
			if errors.Is(err, ErrPlayerStateMissing) {
				err = w.game.discard(ctx, roomID, false)
			} else if err == nil && w.onFinish != nil {
				w.onFinish(roomID, res)
			}
		}
		if errors.Is(err, ErrRoomFinishing) || errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomStarted) {
			continue
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}
