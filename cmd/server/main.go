package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/callscribe/voice-service/internal/config"
	"github.com/callscribe/voice-service/internal/handler"
	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server is the transcription voice service.
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
}

// NewServer wires the full service graph and registers all routes.
func NewServer(ctx context.Context, cfg *config.Config) *Server {
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(ctx, cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start runs the HTTP server until it fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server",
		zap.String("addr", addr),
		zap.String("public_base_url", s.config.PublicBaseURL))
	return server.ListenAndServe()
}

func main() {
	// Load .env for local development; production sets real env vars.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.LoadFromEnv()

	server := NewServer(context.Background(), cfg)
	if server == nil {
		log.Fatal("Failed to create server")
	}
	defer server.handlerManager.Close()
	defer logger.Sync()

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
