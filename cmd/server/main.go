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

	"github.com/lafoncedalle/reviewlink/internal/api"
	"github.com/lafoncedalle/reviewlink/internal/config"
	"github.com/lafoncedalle/reviewlink/internal/database"
	"github.com/lafoncedalle/reviewlink/internal/jobs"
	"github.com/lafoncedalle/reviewlink/internal/links"
	"github.com/lafoncedalle/reviewlink/internal/mailer"
	"github.com/lafoncedalle/reviewlink/internal/orders"
	"github.com/lafoncedalle/reviewlink/internal/ratings"
	"github.com/lafoncedalle/reviewlink/internal/rewards"
	"github.com/lafoncedalle/reviewlink/internal/scanner"
	"github.com/lafoncedalle/reviewlink/internal/websocket"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Get underlying SQL database for cleanup
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(cfg.JWTSecret, cfg.CORSOrigins)
	go hub.Run()

	// Wire the link lifecycle
	store := links.NewStore(db)
	issuer := links.NewCodeIssuer(nil)
	mail := mailer.NewSMTPMailer(cfg.Mail)
	var rewarder rewards.Rewarder
	if cfg.Rewards.BaseURL != "" {
		rewarder = rewards.NewClient(cfg.Rewards.BaseURL, cfg.Rewards.APIKey, cfg.Rewards.Timeout)
	}
	ctrl := links.NewController(store, issuer, mail, rewarder, hub)

	// Wire the eligibility scanner
	source := orders.NewClient(cfg.Orders.BaseURL, cfg.Orders.AccessToken, cfg.Orders.Timeout)
	ratingLookup := ratings.NewStore(db)
	sc := scanner.New(store, source, ratingLookup, hub, cfg.Scan.Workers, cfg.Scan.Deadline)

	// Initialize job scheduler
	scheduler := jobs.NewScheduler(store, sc, cfg.Scan)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, db, store, ctrl, sc, hub)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
