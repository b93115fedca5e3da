package dto

import "runwithmate/entities"

type CreateRoomRequest struct {
	TimeLimit int64 `json:"timeLimit" binding:"required,min=1"`
	BetPoint  int64 `json:"betPoint" binding:"min=0"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

type RoomInfo struct {
	RoomID        string              `json:"roomId"`
	Status        entities.RoomStatus `json:"status"`
	UserEntered   int64               `json:"userEntered"`
	User1ID       string              `json:"user1Id,omitempty"`
	User2ID       string              `json:"user2Id,omitempty"`
	BetPoint      int64               `json:"betPoint"`
	TimeLimit     int64               `json:"timeLimit"`
	TimeLeft      int64               `json:"timeLeft"`
	DopamineBoxes int64               `json:"dopamineBoxes"`
	PointBoxes    int64               `json:"pointBoxes"`
}
