// Command server boots the matchmaking and session engine described by
// this repository: it loads configuration, opens storage, warms the
// graph and tier caches, wires every component, and serves WebSocket
// traffic until asked to stop.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"connectline/internal/auth"
	"connectline/internal/cache"
	"connectline/internal/config"
	"connectline/internal/db"
	"connectline/internal/endpoint"
	"connectline/internal/graph"
	"connectline/internal/locks"
	"connectline/internal/matchmaking"
	"connectline/internal/middleware"
	"connectline/internal/models"
	redisClient "connectline/internal/redis"
	"connectline/internal/session"
	"connectline/internal/stats"
	"connectline/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] no .env file found, relying on process environment")
	}
	cfg := config.Load()

	database, err := db.New(cfg.DB)
	if err != nil {
		log.Fatalf("[MAIN] database connection failed: %v", err)
	}
	defer database.Close()

	migrateWriteSideSchema(database)

	graphStore := graph.New(database)
	log.Println("[MAIN] warming graph store snapshot...")
	if err := graphStore.Warm(); err != nil {
		log.Fatalf("[MAIN] graph warm failed: %v", err)
	}

	redisConn, err := redisClient.New(cfg.Redis)
	if err != nil {
		log.Fatalf("[MAIN] redis connection failed: %v", err)
	}
	defer redisConn.Close()

	lockManager := locks.NewLockManager(redisConn.Client)
	tierCache := cache.New(redisConn, lockManager, graphStore)

	warmCtx, warmCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if n, err := lockManager.CleanupOrphanedLocks(warmCtx); err != nil {
		log.Printf("[MAIN] orphaned lock cleanup failed: %v", err)
	} else if n > 0 {
		log.Printf("[MAIN] cleaned %d orphaned locks", n)
	}
	if err := tierCache.Warm(warmCtx); err != nil {
		log.Printf("[MAIN] tier cache warm failed, endpoint picker will fall back to live queries: %v", err)
	}
	warmCancel()

	picker := endpoint.New(graphStore, tierCache, cfg.EndpointAttempts)
	statsWriter := stats.New(database)
	authSvc := auth.NewService(cfg.JWTSecret)
	queue := matchmaking.New(database, cfg.QueueEntryTTL)

	engine := session.New(graphStore, picker, statsWriter, nil, session.Config{
		Countdown:    cfg.Countdown,
		GameDuration: cfg.MultiplayerDeadline,
	})

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		CleanupInterval:   5 * time.Minute,
	})
	defer rateLimiter.Stop()

	hub := transport.NewHub(authSvc, queue, engine, rateLimiter, config.AllowedOrigins())

	stopSweep := startQueueSweeper(hub)
	defer close(stopSweep)

	stopReaper := startIdleSessionReaper(hub, cfg.WaitingReadyTimeout)
	defer close(stopReaper)

	if cfg.Environment != "production" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowedOrigins(),
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	hub.RegisterRoutes(router, graphStore.Warmed)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("[MAIN] listening on :%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] server error: %v", err)
		}
	}()

	waitForShutdownSignal()
	log.Println("[MAIN] shutdown signal received, draining sessions...")

	hub.Shutdown()
	time.Sleep(500 * time.Millisecond) // let write pumps flush queued terminal frames

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[MAIN] http shutdown error: %v", err)
	}
	log.Println("[MAIN] shutdown complete")
}

// migrateWriteSideSchema ensures the tables this process writes exist.
// players/player_connections/player_seasonal_stats are owned by the
// upstream ETL (spec.md §1 Non-goals) and are never migrated here.
func migrateWriteSideSchema(database *db.DB) {
	if err := database.AutoMigrate(
		&models.UserStat{},
		&models.RecordedOutcome{},
		&models.MatchmakingLogEntry{},
	); err != nil {
		log.Fatalf("[MAIN] write-side migration failed: %v", err)
	}
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// startQueueSweeper periodically drops stale queue entries (an abandoned
// tab that never sent leaveQueue) and notifies their channels with a
// queueExpired frame; see internal/matchmaking's TTL sweep.
func startQueueSweeper(hub *transport.Hub) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := hub.SweepExpiredQueue(); n > 0 {
					log.Printf("[MAIN] swept %d expired queue entries", n)
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}

// startIdleSessionReaper periodically force-finishes sessions stuck in
// waiting state past the ready grace period (SPEC_FULL.md §4's
// idle-session reaper).
func startIdleSessionReaper(hub *transport.Hub, maxAge time.Duration) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := hub.ReapIdleSessions(maxAge); n > 0 {
					log.Printf("[MAIN] reaped %d idle waiting sessions", n)
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
