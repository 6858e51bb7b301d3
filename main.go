package main

import (
	"context"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"uno/config"
	httpserver "uno/http"
	"uno/room"
	"uno/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting uno server")

	cfg := config.Load()
	logger.Info("configuration loaded",
		zap.String("port", cfg.ServerPort),
		zap.String("dbPath", cfg.DBPath))

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	manager := room.NewManager(db, cfg.CallTimeout, logger)
	server := httpserver.NewServer(manager, logger)
	srv := server.GetHTTPServer(cfg.ServerPort)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
