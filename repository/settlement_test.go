package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"runwithmate/config"
	"runwithmate/entities"
)

func openTestSettlements(t *testing.T) *SQLSettlementStore {
	t.Helper()
	cfg := config.SettlementConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "settlements.db")}
	st, err := OpenSettlementStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenSettlementStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSettlement_SaveAndGet(t *testing.T) {
	st := openTestSettlements(t)
	ctx := context.Background()

	want := entities.Settlement{
		RoomID:     "r1",
		BetPoint:   300,
		FinishType: entities.FinishPlayerSurrender,
		WinnerID:   "bob",
		SettledAt:  time.UnixMilli(1_700_000_000_123),
		UsersInfo: []entities.SettlementUser{
			{UserID: "alice", Point: 20, Dopamine: 40},
			{UserID: "bob", Point: 10, Dopamine: 0},
		},
	}
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := st.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BetPoint != 300 || got.WinnerID != "bob" || got.FinishType != entities.FinishPlayerSurrender {
		t.Fatalf("got = %+v", got)
	}
	if !got.SettledAt.Equal(want.SettledAt) {
		t.Fatalf("settledAt = %v", got.SettledAt)
	}
	if len(got.UsersInfo) != 2 || got.UsersInfo[0] != want.UsersInfo[0] || got.UsersInfo[1] != want.UsersInfo[1] {
		t.Fatalf("users = %+v", got.UsersInfo)
	}
}

func TestSettlement_SaveTwiceRejected(t *testing.T) {
	st := openTestSettlements(t)
	ctx := context.Background()
	s := entities.Settlement{RoomID: "r1", FinishType: entities.FinishTimeExpired, SettledAt: time.Now()}
	if err := st.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(ctx, s); !errors.Is(err, ErrSettlementExists) {
		t.Fatalf("second Save err = %v", err)
	}
	if _, err := st.Get(ctx, "nope"); !errors.Is(err, ErrSettlementNotFound) {
		t.Fatalf("Get missing err = %v", err)
	}
}
