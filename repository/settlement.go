package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"runwithmate/config"
	"runwithmate/entities"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var ErrSettlementExists = errors.New("settlement already recorded")
var ErrSettlementNotFound = errors.New("settlement not found")

// SettlementStore is the durable side of a finished room.
type SettlementStore interface {
	Save(ctx context.Context, s entities.Settlement) error
	Get(ctx context.Context, roomID string) (entities.Settlement, error)
}

type SQLSettlementStore struct {
	db *sql.DB
}

// OpenSettlementStore opens the configured driver and makes sure the tables exist.
func OpenSettlementStore(ctx context.Context, cfg config.SettlementConfig) (*SQLSettlementStore, error) {
	dsn := cfg.SettlementDSN()
	if dsn == "" {
		return nil, fmt.Errorf("settlement: empty dsn for driver %s", cfg.Driver)
	}
	if cfg.Driver == "sqlite" && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// one writer; also keeps a :memory: database alive across calls
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(16)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settlement ping: %w", err)
	}
	if err := initSettlementSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLSettlementStore{db: db}, nil
}

func initSettlementSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS game_settlements (
			room_id VARCHAR(64) NOT NULL PRIMARY KEY,
			bet_point BIGINT NOT NULL,
			finish_type VARCHAR(32) NOT NULL,
			winner_id VARCHAR(128) NOT NULL,
			settled_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS game_settlement_users (
			room_id VARCHAR(64) NOT NULL,
			seat INT NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			point BIGINT NOT NULL,
			dopamine BIGINT NOT NULL,
			PRIMARY KEY (room_id, seat)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("settlement schema: %w", err)
		}
	}
	return nil
}

// Save writes the settlement and its seats in one transaction.
func (s *SQLSettlementStore) Save(ctx context.Context, st entities.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM game_settlements WHERE room_id = ?`, st.RoomID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrSettlementExists
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO game_settlements (room_id, bet_point, finish_type, winner_id, settled_at) VALUES (?, ?, ?, ?, ?)`,
		st.RoomID, st.BetPoint, string(st.FinishType), st.WinnerID, st.SettledAt.UnixMilli())
	if err != nil {
		if isDuplicateKey(err) {
			return ErrSettlementExists
		}
		return fmt.Errorf("insert settlement %s: %w", st.RoomID, err)
	}
	for seat, u := range st.UsersInfo {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO game_settlement_users (room_id, seat, user_id, point, dopamine) VALUES (?, ?, ?, ?, ?)`,
			st.RoomID, seat+1, u.UserID, u.Point, u.Dopamine)
		if err != nil {
			return fmt.Errorf("insert settlement seat %d of %s: %w", seat+1, st.RoomID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLSettlementStore) Get(ctx context.Context, roomID string) (entities.Settlement, error) {
	st := entities.Settlement{RoomID: roomID}
	var (
		finishType string
		settledAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT bet_point, finish_type, winner_id, settled_at FROM game_settlements WHERE room_id = ?`, roomID).
		Scan(&st.BetPoint, &finishType, &st.WinnerID, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, ErrSettlementNotFound
	}
	if err != nil {
		return st, err
	}
	st.FinishType = entities.FinishType(finishType)
	st.SettledAt = time.UnixMilli(settledAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, point, dopamine FROM game_settlement_users WHERE room_id = ? ORDER BY seat`, roomID)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var u entities.SettlementUser
		if err := rows.Scan(&u.UserID, &u.Point, &u.Dopamine); err != nil {
			return st, err
		}
		st.UsersInfo = append(st.UsersInfo, u)
	}
	return st, rows.Err()
}

func (s *SQLSettlementStore) Close() error {
	return s.db.Close()
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
