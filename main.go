package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luocen99/opsconsole/internal/adapter/chatclient"
	"github.com/luocen99/opsconsole/internal/config"
	"github.com/luocen99/opsconsole/internal/gateway"
	"github.com/luocen99/opsconsole/internal/hub"
	store "github.com/luocen99/opsconsole/internal/repository"
	"github.com/luocen99/opsconsole/internal/service"
	httptransport "github.com/luocen99/opsconsole/internal/transport/http"
	"github.com/luocen99/opsconsole/internal/transport/ws"
	"github.com/luocen99/opsconsole/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting operator console...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Chat stream URL: %s", cfg.ChatStreamURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize policy engine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize hub for console connections
	h := hub.NewHub()
	go h.Run()

	// Initialize services
	gw := gateway.New(db, policyEngine, cfg)
	chatClient := chatclient.NewClient(cfg.ChatStreamURL)
	console := service.New(chatClient, db, h, cfg)

	// Background ticket expiry sweeper
	go gw.RunTicketExpiryMonitor(ctx)

	// HTTP server with the console WebSocket endpoint
	wsServer := ws.NewServer(h, console)
	e := httptransport.NewServer(gw, console, wsServer)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Console API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down console...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Console stopped")
}
