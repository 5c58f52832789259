package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/classifier"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/config"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/database"
	httpapi "github.com/SNEHALPRAVINPAWAR/medATM/internal/http"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/logger"
	mqttbridge "github.com/SNEHALPRAVINPAWAR/medATM/internal/mqtt"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/repository"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/service"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "medatm")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Redis（缓存 + 事件流，可选）
	var (
		redisClient *redis.Client
		cache       *store.LiveCache
		events      *store.EventPublisher
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = store.NewLiveCache(store.NewRedisKV(redisClient))
		events = store.NewEventPublisher(redisClient, log)
	}

	// 存储：DB 可用时用 Postgres，否则退回内存（本地联测不依赖 DB）
	var (
		db       *sql.DB
		sessions repository.SessionsRepo
		subjects repository.SubjectsRepo
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for medatm")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory store", zap.Error(err))
		}
	}
	if db != nil {
		sessions = repository.NewPostgresSessionsRepo(db)
		subjects = repository.NewPostgresSubjectsRepo(db)
	} else {
		mem := repository.NewMemoryStore()
		sessions = mem
		subjects = mem
	}

	notifier := service.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, log)

	lifecycle := service.NewLifecycleService(sessions, cache, events, log)
	ingest := service.NewIngestService(sessions, subjects, classifier.RuleBased, cache, notifier, events, log)
	review := service.NewReviewService(sessions, subjects, cache, notifier, events, log)
	dispatch := service.NewDispatchService(sessions, cache, events, log)

	router := httpapi.NewRouter(log)
	router.RegisterSessionRoutes(httpapi.NewSessionHandler(lifecycle, review, log))
	router.RegisterKioskRoutes(httpapi.NewKioskHandler(ingest, dispatch, log))

	health := httpapi.NewHealthHandler(db, redisClient, log)
	health.EnablePprof(cfg.Pprof)
	router.RegisterHealthRoutes(health)

	// MQTT 读数上行桥（默认禁用）
	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		if b, err := mqttbridge.NewBridge(&cfg.MQTT, ingest, log); err == nil {
			bridge = b
			if err := bridge.Start(); err != nil {
				log.Warn("MQTT bridge subscribe failed", zap.Error(err))
			}
		} else {
			log.Warn("MQTT bridge disabled: broker unreachable", zap.Error(err))
		}
	}

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)

	if bridge != nil {
		bridge.Stop()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
