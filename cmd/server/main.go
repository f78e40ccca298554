package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/wandform/backend/internal/api"
	"github.com/wandform/backend/internal/config"
	"github.com/wandform/backend/internal/metrics"
	"github.com/wandform/backend/internal/room"
	"github.com/wandform/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	manager := room.NewManager(st, room.Config{SendBuffer: cfg.Realtime.SendBuffer})
	apiHandler := api.New(manager, st, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/realtime/", apiHandler.RealtimeRouter)
	mux.HandleFunc("/api/forms", apiHandler.FormsRouter)
	mux.HandleFunc("/api/forms/", apiHandler.FormsRouter)
	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: corsMiddleware(mux),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("WandForm realtime server starting on :%d", cfg.Server.Port)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Println("Endpoints:")
	log.Println("  - Realtime:    GET /api/realtime/{formId} (websocket)")
	log.Println("  - History:     GET /api/realtime/{formId}/history?limit=N")
	log.Println("  - Forms:       GET/POST /api/forms, GET /api/forms/{id}")
	log.Println("  - Submissions: GET/POST /api/forms/{id}/submissions")
	log.Println("  - Events:      POST /api/forms/{id}/events")
	log.Println("  - Analytics:   GET /api/forms/{id}/analytics")
	log.Println("  - Health:      GET /health")
	log.Println("  - Stats:       GET /api/stats")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
