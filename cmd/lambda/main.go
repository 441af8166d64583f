package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gin-gonic/gin"

	"persona-chat/handler"
	"persona-chat/internal/app"
	"persona-chat/internal/config"
	"persona-chat/internal/logger"
)

func main() {
	ctx := context.Background()
	gin.SetMode(gin.ReleaseMode)

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		os.Exit(1)
	}

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// ---- Stores, clients, services ----
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	// ---- Handler ----
	adapter, err := handler.NewLambdaAdapter(a.Router)
	if err != nil {
		log.Error("failed to create lambda adapter", "error", err)
		os.Exit(1)
	}

	lambda.Start(adapter.Handle)
}
