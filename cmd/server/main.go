package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/pharm-prep/backend/internal/auth"
	"github.com/pharm-prep/backend/internal/cache"
	"github.com/pharm-prep/backend/internal/config"
	"github.com/pharm-prep/backend/internal/database"
	"github.com/pharm-prep/backend/internal/gamification"
	"github.com/pharm-prep/backend/internal/middleware"
	"github.com/pharm-prep/backend/internal/streaksync"

	_ "time/tzdata"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	ctx := context.Background()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rcfg := cache.DefaultConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		rdb, err = cache.NewClient(ctx, rcfg)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
	}

	// Initialize progress store
	var store gamification.Store
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		store = cache.NewProgressStore(rdb)
	default:
		db, dialect, err := openSQL(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(db, dialect); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		store = database.NewProgressStore(db, dialect)
	}

	opts := gamification.Options{Policy: policy}
	var scores gamification.ScoreRecorder
	if cfg.LeaderboardDriver == config.LeaderboardRedis {
		board := cache.NewLeaderboard(rdb)
		opts.Leaderboard = board
		scores = board
	}

	var fetcher gamification.StreakStatusFetcher
	if cfg.StreakServiceURL != "" {
		secret := []byte(cfg.JWTSecret)
		fetcher = streaksync.NewClient(streaksync.ClientConfig{
			BaseURL: cfg.StreakServiceURL,
			Token: func(userID int64) (string, error) {
				return auth.GenerateToken(userID, secret, 5*time.Minute)
			},
		})
	}

	service := gamification.NewService(store, opts, scores, fetcher)
	progressHandler := gamification.NewHandler(service)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go service.StartIdleEvictionWorker(workerCtx, cfg.EngineIdleTimeout)

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Protected routes
	protected := api.PathPrefix("/progress").Subrouter()
	protected.Use(middleware.Auth([]byte(cfg.JWTSecret)))
	protected.HandleFunc("", progressHandler.GetProgress).Methods("GET")
	protected.HandleFunc("/resume", progressHandler.Resume).Methods("POST")
	protected.HandleFunc("/suspend", progressHandler.Suspend).Methods("POST")
	protected.HandleFunc("/teardown", progressHandler.Teardown).Methods("POST")
	protected.HandleFunc("/timezone", progressHandler.SetTimezone).Methods("PUT")

	protected.HandleFunc("/lessons/{id}/start", progressHandler.StartLesson).Methods("POST")
	protected.HandleFunc("/lessons/{id}/complete", progressHandler.CompleteLesson).Methods("POST")
	protected.HandleFunc("/practice/complete", progressHandler.CompletePractice).Methods("POST")

	protected.HandleFunc("/shop/{item}", progressHandler.BuyItem).Methods("POST")
	protected.HandleFunc("/hearts/refill", progressHandler.RefillHearts).Methods("POST")

	protected.HandleFunc("/quests/{slot}/claim", progressHandler.ClaimQuest).Methods("POST")
	protected.HandleFunc("/daily-reward/claim", progressHandler.ClaimDailyReward).Methods("POST")
	protected.HandleFunc("/loot-box/open", progressHandler.OpenLootBox).Methods("POST")

	protected.HandleFunc("/streak/save", progressHandler.UseStreakSave).Methods("POST")
	protected.HandleFunc("/streak/accept-break", progressHandler.AcceptStreakBreak).Methods("POST")
	protected.HandleFunc("/streak/saves", progressHandler.BuyStreakSave).Methods("POST")

	protected.HandleFunc("/teaching/{part}/seen", progressHandler.MarkTeachingSeen).Methods("POST")
	protected.HandleFunc("/teaching/needed", progressHandler.NeedsTeaching).Methods("GET")
	protected.HandleFunc("/reviews/due", progressHandler.DueReviews).Methods("GET")
	protected.HandleFunc("/mistakes", progressHandler.RecentMistakes).Methods("GET")
	protected.HandleFunc("/league/result", progressHandler.TakeLeagueResult).Methods("POST")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[server] starting on :%s (store=%s, leaderboard=%s)", cfg.Port, cfg.StoreDriver, cfg.LeaderboardDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("[server] shutting down")
	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] http shutdown: %v", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] progress flush incomplete: %v", err)
	}
}

func openSQL(cfg *config.Config) (*sql.DB, string, error) {
	if cfg.StoreDriver == config.StoreDriverSQLite {
		db, err := database.OpenSQLite(cfg.SQLitePath)
		return db, database.SQLite, err
	}
	db, err := database.Connect(cfg.PostgresDSN())
	return db, database.Postgres, err
}
