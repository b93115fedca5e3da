package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"runwithmate/config"
	"runwithmate/controller"
	"runwithmate/dto"
	"runwithmate/middleware"
	"runwithmate/repository"
	"runwithmate/router"
	"runwithmate/service"
	"runwithmate/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := repository.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	settlements, err := repository.OpenSettlementStore(ctx, cfg.Settlement)
	if err != nil {
		_ = rdb.Close()
		return err
	}
	defer func() {
		err = multierr.Combine(err, settlements.Close(), rdb.Close())
	}()

	game := service.NewGameService(repository.NewRedisRoomStore(rdb), settlements, cfg.Game, logger)
	hub := ws.NewHub(logger)
	rc := controller.NewRoomController(game, hub, logger)
	wsh := ws.NewHandler(hub, game, logger)

	sweeper := service.NewSweeper(game, cfg.Game.SweepInterval, func(roomID string, res dto.GameFinishResponse) {
		rc.AnnounceFinish(roomID, res)
	})
	go sweeper.Run(ctx)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(logger), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))
	router.InitRouter(r, rc, wsh, []byte(cfg.Auth.Secret))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Server.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
