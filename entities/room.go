package entities

import "time"

type BoxType string

const (
	BoxTypeDopamine BoxType = "DOPAMINE"
	BoxTypePoint    BoxType = "POINT"
)

// BoxTypes lists the box kinds in announcement order.
var BoxTypes = []BoxType{BoxTypeDopamine, BoxTypePoint}

func (t BoxType) Valid() bool {
	return t == BoxTypeDopamine || t == BoxTypePoint
}

type FinishType string

const (
	FinishTimeExpired     FinishType = "TIME_EXPIRED"
	FinishPlayerSurrender FinishType = "PLAYER_SURRENDER"
)

func (t FinishType) Valid() bool {
	return t == FinishTimeExpired || t == FinishPlayerSurrender
}

type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusPlaying RoomStatus = "playing"
)

// Room is the metadata hash of one game room.
type Room struct {
	ID          string
	UserEntered int64  `mapstructure:"user_entered"`
	// StartTime is unix milliseconds, 0 until the second player joins.
	StartTime int64  `mapstructure:"start_time"`
	TimeLimit int64  `mapstructure:"time_limit"`
	BetPoint  int64  `mapstructure:"bet_point"`
	User1ID   string `mapstructure:"user1_id"`
	User2ID   string `mapstructure:"user2_id"`
	CreatedAt int64  `mapstructure:"created_at"`
}

func (r Room) Started() bool {
	return r.StartTime > 0
}

func (r Room) Status() RoomStatus {
	if r.Started() {
		return RoomStatusPlaying
	}
	return RoomStatusWaiting
}

// HasMember reports whether userID holds one of the two seats.
func (r Room) HasMember(userID string) bool {
	return userID != "" && (userID == r.User1ID || userID == r.User2ID)
}

// TimeLeft returns whole seconds remaining at now, floored and clamped at 0.
// Before start the full limit is reported.
func (r Room) TimeLeft(now time.Time) int64 {
	if !r.Started() {
		return r.TimeLimit
	}
	elapsed := now.UnixMilli() - r.StartTime
	if elapsed < 0 {
		elapsed = 0
	}
	left := r.TimeLimit - elapsed/1000
	if left < 0 {
		return 0
	}
	return left
}

// Deadline is the instant the round runs out.
func (r Room) Deadline() time.Time {
	return time.UnixMilli(r.StartTime).Add(time.Duration(r.TimeLimit) * time.Second)
}

type Position struct {
	Lat float64 `json:"lat" mapstructure:"lat"`
	Lng float64 `json:"lng" mapstructure:"lng"`
}

// PlayerPosition is the stored last position of a player.
type PlayerPosition struct {
	Position
	// At is the unix millisecond receive time.
	At int64 `json:"at"`
}

type Box struct {
	ID      int64   `json:"id"`
	BoxType BoxType `json:"boxType"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Amount  int64   `json:"amount"`
}

func (b Box) Position() Position {
	return Position{Lat: b.Lat, Lng: b.Lng}
}

type Balance struct {
	Point    int64 `json:"point"`
	Dopamine int64 `json:"dopamine"`
}

type SettlementUser struct {
	UserID   string `json:"userId"`
	Point    int64  `json:"point"`
	Dopamine int64  `json:"dopamine"`
}

// Settlement is the durable record of a finished room.
type Settlement struct {
	RoomID     string           `json:"roomId"`
	BetPoint   int64            `json:"betPoint"`
	FinishType FinishType       `json:"finishType"`
	WinnerID   string           `json:"winnerId"`
	SettledAt  time.Time        `json:"settledAt"`
	UsersInfo  []SettlementUser `json:"usersInfo"`
}
