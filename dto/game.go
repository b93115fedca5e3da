package dto

import "runwithmate/entities"

type PositionRequest struct {
	Lat *float64 `json:"lat" binding:"required" mapstructure:"lat"`
	Lng *float64 `json:"lng" binding:"required" mapstructure:"lng"`
}

func (p PositionRequest) Position() entities.Position {
	var pos entities.Position
	if p.Lat != nil {
		pos.Lat = *p.Lat
	}
	if p.Lng != nil {
		pos.Lng = *p.Lng
	}
	return pos
}

type StartCheckResponse struct {
	Started       bool           `json:"started"`
	DopamineBoxes []entities.Box `json:"dopamineBoxes"`
	PointBoxes    []entities.Box `json:"pointBoxes"`
	TimeLeft      int64          `json:"timeLeft"`
}

type PositionUpdateResponse struct {
	UserID   string            `json:"userId"`
	Position entities.Position `json:"position"`
	TimeLeft int64             `json:"timeLeft"`
}

type BoxRemoveResponse struct {
	UserID       string         `json:"userId"`
	RemovedBoxes []entities.Box `json:"removedBoxes"`
}

type GameFinishResponse struct {
	RoomID     string                    `json:"roomId"`
	FinishType entities.FinishType       `json:"finishType"`
	Winner     string                    `json:"winner"` // user1 / user2
	WinnerID   string                    `json:"winnerId"`
	BetPoint   int64                     `json:"betPoint"`
	UsersInfo  []entities.SettlementUser `json:"usersInfo"`
}

func FinishResponseFromSettlement(s entities.Settlement) GameFinishResponse {
	winner := "user1"
	if len(s.UsersInfo) == 2 && s.UsersInfo[1].UserID == s.WinnerID {
		winner = "user2"
	}
	return GameFinishResponse{
		RoomID:     s.RoomID,
		FinishType: s.FinishType,
		Winner:     winner,
		WinnerID:   s.WinnerID,
		BetPoint:   s.BetPoint,
		UsersInfo:  s.UsersInfo,
	}
}
