package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/internal/chat/changebus"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/internal/chat/router"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/database"
	"chat_sync_service/pkg/logger"
	testtool "chat_sync_service/pkg/test_tool"
	"chat_sync_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatSync, config.EnvConfig.ChatSyncLogPath)
	defer logger.Log.Sync()

	cfg, err := config.LoadConfig[config.ChatSync](config.EnvConfig.ChatSync, config.EnvConfig.ChatSyncYAMLPath)
	if err != nil {
		logger.Log.Fatal("load config", zap.Error(err))
	}
	if cfg.JWT.Secret != "" {
		token.SetSecret(cfg.JWT.Secret)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 建立 Mongo 連線 (rooms, messages)
	mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx, database.Connection{
		ConnectStr:    mongoURI,
		RetryCount:    cfg.MongoSQL.RetryCount,
		RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
	}, cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to mongoDB database after retries", zap.String("host", cfg.MongoSQL.Host), zap.Error(err))
	}
	defer mongo.Close(context.Background())

	// 2. 建立 Postgres 連線 (profiles 用 pgx, typing_indicators 用 gorm)
	pgDSN := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	pgConn := database.Connection{
		ConnectStr:    pgDSN,
		RetryCount:    cfg.Postgres.RetryCount,
		RetryInterval: time.Duration(cfg.Postgres.RetryInterval),
	}
	pool, err := database.NewDatabaseConnection(ctx, pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgres after retries", zap.String("host", cfg.Postgres.Host), zap.Error(err))
	}
	defer pool.Close()

	gormDB, err := database.NewPGConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to open gorm postgres", zap.Error(err))
	}

	// 3. 初始化 Repository 與 schema
	typingRepo := repository.NewTypingRepo(gormDB)
	if err := repository.MigrateProfiles(ctx, pool); err != nil {
		logger.Log.Fatal("migrate profiles", zap.Error(err))
	}
	if err := typingRepo.AutoMigrate(); err != nil {
		logger.Log.Fatal("migrate typing indicators", zap.Error(err))
	}
	if err := repository.EnsureMessageIndexes(ctx, mongo.Database); err != nil {
		logger.Log.Fatal("ensure message indexes", zap.Error(err))
	}

	// 4. 建立 change bus
	bus, closeBus, err := newBus(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("change bus", zap.String("driver", string(cfg.Bus.Driver)), zap.Error(err))
	}
	defer closeBus()

	store := repository.NewPublishingStore(repository.Store{
		Rooms:    repository.NewMongoRoomRepository(mongo.Database),
		Messages: repository.NewMongoMessageRepository(mongo.Database),
		Profiles: repository.NewProfileRepository(pool),
		Typing:   typingRepo,
	}, bus)

	if err := ensureDefaultRoom(ctx, store.Rooms); err != nil {
		logger.Log.Fatal("ensure default room", zap.Error(err))
	}

	testtool.StartPprof("")

	// 5. 啟動 Fiber
	r := fiber.New(fiber.Config{DisableStartupMessage: config.IsProduction()})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatSyncLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Log.Fatal("Failed to open access log", zap.Error(err))
	}
	defer file.Close()
	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r, app.NewChatWebsocketHandler(store, bus, cfg.Sync))

	go func() {
		<-ctx.Done()
		logger.Log.Info("shutting down")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("fiber shutdown", zap.Error(err))
		}
	}()

	port := cfg.Port
	if config.EnvConfig.ChatSyncPort != "" {
		port = config.EnvConfig.ChatSyncPort
	}
	logger.Log.Info("Chat Sync Service listening", zap.String("port", port))
	if err := r.Listen(":" + port); err != nil {
		logger.Log.Error("Failed to start Fiber", zap.Error(err))
	}
}

// newBus 依 bus.driver 建立 change bus
func newBus(ctx context.Context, cfg config.ChatSync) (changebus.Bus, func(), error) {
	switch cfg.Bus.Driver {
	case config.BusRedis, "":
		masterName, sentinels := config.GetRedisSetting()
		client, err := database.NewRedisClient(ctx, database.RedisConnection{
			Addr:          cfg.Redis.Addr,
			MasterName:    masterName,
			SentinelAddrs: sentinels,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		bus := changebus.NewRedisBus(client, cfg.Bus.Prefix)
		return bus, func() {
			bus.Close()
			client.Close()
		}, nil

	case config.BusKafka:
		if err := database.CheckKafka(ctx, database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: time.Duration(cfg.Kafka.RetryInterval),
		}); err != nil {
			return nil, nil, err
		}
		bus := changebus.NewKafkaBus(cfg.Kafka.Brokers, cfg.Bus.Prefix)
		if err := bus.EnsureTopics(ctx); err != nil {
			logger.Log.Warn("kafka ensure topics", zap.Error(err))
		}
		return bus, func() { bus.Close() }, nil

	case config.BusRabbitMQ:
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr: fmt.Sprintf("amqp://%s:%s@%s:%d/",
				cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port),
			RetryCount:    cfg.RabbitMQ.RetryCount,
			RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
		})
		if err != nil {
			return nil, nil, err
		}
		bus := changebus.NewRabbitBus(conn, cfg.Bus.Prefix)
		return bus, func() {
			bus.Close()
			conn.Close()
		}, nil

	case config.BusMemory:
		bus := changebus.NewMemoryBus()
		return bus, func() { bus.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// ensureDefaultRoom 確保 General 聊天室存在
func ensureDefaultRoom(ctx context.Context, rooms repository.RoomRepository) error {
	_, err := rooms.FindByName(ctx, domain.DefaultRoomName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return rooms.CreateRoom(ctx, &domain.Room{Name: domain.DefaultRoomName, Kind: domain.RoomKindPublic})
}
