package router

import (
	"runwithmate/controller"
	"runwithmate/middleware"
	"runwithmate/ws"

	"github.com/gin-gonic/gin"
)

func InitRouter(r *gin.Engine, rc *controller.RoomController, wsh *ws.Handler, secret []byte) {
	api := r.Group("/room")
	{
		api.POST("/create", rc.CreateRoom)
		api.GET("/:roomID", rc.GetRoomInfo)
		api.GET("/:roomID/result", rc.GetRoomResult)
	}

	game := r.Group("/game", middleware.AuthMiddleware(secret))
	{
		game.POST("/:roomID/join", rc.Join)
		game.POST("/:roomID/surrender", rc.Surrender)
	}

	// socket clients pass the token as a query parameter
	r.GET("/ws", middleware.AuthMiddleware(secret), wsh.HandleWebSocket)
}
