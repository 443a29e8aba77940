package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync-api/api"
	"tasksync-api/storage"
	"tasksync-api/syncer"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	dataDir := os.Getenv("DATA_DIR")
	remoteURL := os.Getenv("REMOTE_BASE_URL")
	if dataDir == "" || remoteURL == "" {
		log.Fatal("missing storage or remote config")
	}

	store, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	remoteTimeout := 30 * time.Second
	if v := os.Getenv("REMOTE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid REMOTE_TIMEOUT: %v", err)
		}
		remoteTimeout = d
	}
	remote := syncer.NewHTTPRemote(remoteURL, os.Getenv("REMOTE_TOKEN_SECRET"), remoteTimeout)

	logger := log.New()

	var apiStore api.Store = store
	var engineStore syncer.Store = store
	var deduper api.Deduper
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			log.Fatalf("invalid REDIS_CONNECTION_STRING: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		cacheTTL := 5 * time.Minute
		if v := os.Getenv("CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid CACHE_TTL: %v", err)
			}
			cacheTTL = d
		}
		cache := storage.NewCache(store, rc, cacheTTL)
		apiStore = cache
		engineStore = cache
		deduper = api.NewRedisDeduper(rc, 24*time.Hour)
	}

	engine := syncer.New(engineStore, remote, logger)

	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil || interval <= 0 {
			log.Fatalf("invalid SYNC_INTERVAL: %v", err)
		}
		scheduler := syncer.NewScheduler(engine, interval, logger)
		go scheduler.Start(context.Background())
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, apiStore, engine, remote, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}
