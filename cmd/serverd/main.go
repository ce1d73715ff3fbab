package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketops/mpimport/internal/config"
	"github.com/marketops/mpimport/internal/db"
	"github.com/marketops/mpimport/internal/importer"
	"github.com/marketops/mpimport/internal/middleware"
	"github.com/marketops/mpimport/internal/repository"
	"github.com/marketops/mpimport/internal/session"

	"github.com/rs/cors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DB, cfg.Server.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories and the session registry
	recordRepo := repository.NewImportRecordRepository(conn)
	logRepo := repository.NewImportLogRepository(conn.Pool)
	registry := session.NewRegistry()

	service := importer.NewService(
		registry,
		recordRepo,
		logRepo,
		importer.FileSourceResolver{Dir: cfg.Server.DataDir},
		importer.WithJobTimeout(cfg.Server.JobTimeout),
	)

	// Evict stale completed sessions in the background
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := registry.CleanupOlderThan(cfg.Server.SessionRetention); removed > 0 {
					log.Printf("[session] evicted %d completed sessions", removed)
				}
			}
		}
	}()

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Server.CORSOrigin},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	importHandler := middleware.LoggingMiddleware(
		importer.NewHTTPHandler(service, recordRepo, logRepo),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/import/", corsHandler.Handler(importHandler))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting import server on %s", cfg.Server.Addr)
		log.Printf("Import API available at http://localhost%s/api/import/", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
