package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/cache"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/chatroom"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/config"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	deliverygrpc "github.com/weiawesome/wes-io-live/delivery-service/internal/grpc"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/handler"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/hub"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/media"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/notify"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/presence"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/service"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/database"
	pkglog "github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	instanceID := uuid.New().String()

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "delivery-service",
		InstanceID:  instanceID,
	})
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database using GORM
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Msg("database migration completed")

	// Initialize repositories
	var userRepo repository.UserRepository = repository.NewGormUserRepository(db)
	deviceRepo := repository.NewGormDeviceRepository(db)
	chatroomRepo := repository.NewGormChatroomRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)

	// Redis backs the user cache and the presence store
	var redisClient *redis.Client
	var presenceStore presence.Store
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		defer redisClient.Close()

		userRepo = cache.NewCachedUserRepository(userRepo, cache.NewRedisUserCache(redisClient, cfg.Cache.Prefix), cfg.Cache.TTL)
		presenceStore = presence.NewRedisStore(redisClient, cfg.Presence.KeyPrefix, instanceID, cfg.Presence.InstanceTTL)
		logger.Info().Str("address", cfg.Redis.Address).Msg("redis connected")
	}

	// Presence events between instances
	var bus pubsub.PubSub
	if cfg.PubSub.Driver != "none" {
		bus, err = pubsub.NewPubSub(cfg.PubSub, instanceID)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to initialize pubsub")
		}
		defer bus.Close()
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub connected")
	}

	// Lifecycle events
	var producer kafka.EventProducer = kafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		cp, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		producer = cp
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka producer connected")
	}
	defer producer.Close()

	// Blob storage for uploads
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to initialize storage")
	}
	mediaStore := media.NewStore(blobs, cfg.Upload.URLExpiry)

	// Initialize Hub
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run(ctx)

	// Session registry and presence
	registry := session.NewRegistry()

	var publisher pubsub.Publisher
	if bus != nil {
		publisher = bus
	}
	tracker := presence.NewTracker(registry, wsHub, presenceStore, publisher, presence.Config{
		InstanceID:        instanceID,
		OfflineGrace:      cfg.Presence.OfflineGrace,
		HeartbeatInterval: cfg.Presence.InstanceTTL / 3,
	})
	defer tracker.Stop()
	go tracker.Run(ctx)

	if bus != nil {
		relay := presence.NewRelay(bus, tracker, instanceID)
		go relay.Run(ctx)
	}

	// Initialize services
	resolver := chatroom.NewResolver(chatroomRepo)
	notifier := notify.NewExpoNotifier(notify.ExpoConfig{
		URL:         cfg.Notify.ExpoURL,
		AccessToken: cfg.Notify.AccessToken,
		Timeout:     cfg.Notify.Timeout,
	})
	dispatcher := notify.NewDispatcher(deviceRepo, userRepo, notifier, cfg.Notify.Concurrency)

	deliverySvc := service.NewDeliveryService(userRepo, messageRepo, resolver, registry, dispatcher, producer,
		service.WithNotifyTimeout(cfg.Notify.Timeout*3))
	defer deliverySvc.Stop()
	connectionSvc := service.NewConnectionService(userRepo, deviceRepo, resolver, registry, tracker, cfg.Session.Supersede)

	// Start gRPC health server
	if cfg.GRPC.Enabled {
		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to get sql db")
		}
		checks := map[string]deliverygrpc.Check{"database": sqlDB.PingContext}
		if redisClient != nil {
			checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}

		healthServer := deliverygrpc.NewHealthServer(logger, checks)
		grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		if err := healthServer.Start(grpcAddr); err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc server")
		}
		defer healthServer.Stop()
		go healthServer.Monitor(ctx, 15*time.Second)
	}

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	handler.NewHandler(connectionSvc, mediaStore, cfg.Upload.MaxSize).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, registry, deliverySvc, connectionSvc, cfg.WebSocket).RegisterRoutes(r)
	if local, ok := blobs.(*storage.LocalStorage); ok {
		r.Static(local.URLPrefix(), local.BasePath())
	}

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Str("driver", cfg.Database.Driver).Msg("delivery-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down delivery-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()
	<-wsHub.Done()

	logger.Info().Msg("delivery-service stopped")
}
