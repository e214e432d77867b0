package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/api"
	"gwi.com/wellness-chat/internal/config"
	"gwi.com/wellness-chat/internal/core"
	"gwi.com/wellness-chat/internal/guidance"
	"gwi.com/wellness-chat/internal/logging"
	"gwi.com/wellness-chat/internal/store"
)

func main() {
	seedDemoFlag := flag.Bool("seed-demo", false, "Create the demo account and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}

	ctx := context.Background()

	dbStore := store.Open(ctx, cfg, logger)
	defer dbStore.Close()

	gen, closeGen, err := guidance.NewGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize guidance provider", zap.Error(err))
	}
	defer closeGen()

	guide := guidance.NewClient(gen, cfg.GuidanceHistoryLimit, logger)
	chatService := core.NewChatService(dbStore, guide, cfg.GuidanceTimeout, logger)

	if *seedDemoFlag {
		user, err := chatService.SeedDemoUser(ctx)
		if err != nil {
			logger.Fatal("Failed to seed demo user", zap.Error(err))
		}
		logger.Info("Demo user ready. Exiting.", zap.String("user_id", user.ID), zap.String("email", user.Email))
		return
	}

	apiHandler := api.NewAPIHandler(chatService, logger)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GuidanceTimeout + 30*time.Second, // guidance plus illustration
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting server. Press Ctrl+C to quit.", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server exiting gracefully")
}
