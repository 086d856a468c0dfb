package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/server"
)

func main() {
	// A missing .env is fine; the real environment still applies
	_ = godotenv.Load()

	env, err := server.LoadEnv(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := env.OpenStore()
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	srv := server.New(store, env.Config)
	env.Config.Logger.Info("todosync server starting",
		logger.F("port", env.Port),
		logger.F("store", env.Store),
		logger.F("authMode", env.Config.AuthMode))

	go func() {
		if err := srv.Start(":" + env.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
