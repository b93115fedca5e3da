package service

import (
	"errors"
	"fmt"
	"testing"

	"runwithmate/repository"
)

func TestMapStoreErr(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{repository.ErrRoomClosed, ErrRoomNotFound},
		{repository.ErrRoomNotExist, ErrRoomNotFound},
		{repository.ErrNotConfigured, ErrRoomNotConfigured},
		{repository.ErrRoomFull, ErrRoomFull},
		{repository.ErrAlreadyJoined, ErrAlreadyJoined},
		{repository.ErrFinishing, ErrRoomFinishing},
		{fmt.Errorf("wrapped: %w", repository.ErrCreditFailed), ErrCreditFailed},
		{errors.New("dial tcp: connection refused"), ErrStoreUnavailable},
	}
	for _, c := range cases {
		if got := mapStoreErr(c.in); !errors.Is(got, c.want) {
			t.Errorf("mapStoreErr(%v) = %v, want %v", c.in, got, c.want)
		}
	}
	if mapStoreErr(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestErrorCode(t *testing.T) {
	if got := ErrorCode(fmt.Errorf("%w: boom", ErrSettlementPersist)); got != "SETTLEMENT_PERSIST_FAILURE" {
		t.Fatalf("code = %s", got)
	}
	if got := ErrorCode(errors.New("x")); got != "INTERNAL" {
		t.Fatalf("code = %s", got)
	}
	if IsTransient(ErrRoomFull) || !IsTransient(ErrStoreUnavailable) {
		t.Fatal("IsTransient misclassifies")
	}
}
