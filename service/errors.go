package service

import (
	"errors"
	"fmt"

	"runwithmate/repository"
)

var (
	ErrRoomNotConfigured  = errors.New("room not configured")
	ErrRoomFull           = errors.New("room full")
	ErrRoomNotStarted     = errors.New("room not started")
	ErrRoomNotFound       = errors.New("room not found")
	ErrPlayerStateMissing = errors.New("player state missing")
	ErrSettlementPersist  = errors.New("settlement persist failure")
	ErrStoreUnavailable   = errors.New("store unavailable")

	ErrAlreadyJoined     = errors.New("player already joined")
	ErrPlayerNotInRoom   = errors.New("player not in room")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrImplausibleMove   = errors.New("implausible move")
	ErrRoomFinishing     = errors.New("room is being finished")
	ErrCreditFailed      = errors.New("box credit failed")
	ErrInvalidFinishType = errors.New("invalid finish type")
	ErrRoomStarted       = errors.New("room already started")
)

// IsTransient reports whether a retry of the same call may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrRoomFinishing) ||
		errors.Is(err, ErrSettlementPersist)
}

// mapStoreErr translates repository errors into the engine's taxonomy.
// Anything unrecognised is treated as the store being unavailable.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrRoomClosed), errors.Is(err, repository.ErrRoomNotExist):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrNotConfigured):
		return ErrRoomNotConfigured
	case errors.Is(err, repository.ErrRoomFull):
		return ErrRoomFull
	case errors.Is(err, repository.ErrAlreadyJoined):
		return ErrAlreadyJoined
	case errors.Is(err, repository.ErrFinishing):
		return ErrRoomFinishing
	case errors.Is(err, repository.ErrCreditFailed):
		return fmt.Errorf("%w: %v", ErrCreditFailed, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrRoomNotConfigured, "ROOM_NOT_CONFIGURED"},
	{ErrRoomFull, "ROOM_FULL"},
	{ErrRoomNotStarted, "ROOM_NOT_STARTED"},
	{ErrRoomNotFound, "ROOM_NOT_FOUND"},
	{ErrPlayerStateMissing, "PLAYER_STATE_MISSING"},
	{ErrSettlementPersist, "SETTLEMENT_PERSIST_FAILURE"},
	{ErrStoreUnavailable, "STORE_UNAVAILABLE"},
	{ErrAlreadyJoined, "ALREADY_JOINED"},
	{ErrPlayerNotInRoom, "PLAYER_NOT_IN_ROOM"},
	{ErrInvalidPosition, "INVALID_POSITION"},
	{ErrImplausibleMove, "IMPLAUSIBLE_MOVE"},
	{ErrRoomFinishing, "ROOM_FINISHING"},
	{ErrCreditFailed, "CREDIT_FAILED"},
	{ErrInvalidFinishType, "INVALID_FINISH_TYPE"},
	{ErrRoomStarted, "ROOM_STARTED"},
}

// ErrorCode is the wire code of an engine error, "INTERNAL" for anything else.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL"
}
