package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-delivery/internal/cache"
	"github.com/noteduco342/om-delivery/internal/config"
	"github.com/noteduco342/om-delivery/internal/delivery"
	"github.com/noteduco342/om-delivery/internal/handlers"
	"github.com/noteduco342/om-delivery/internal/handlers/ws"
	"github.com/noteduco342/om-delivery/internal/httpx"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/middleware"
	"github.com/noteduco342/om-delivery/internal/repository"
	"github.com/noteduco342/om-delivery/internal/service"
	"github.com/noteduco342/om-delivery/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{
		Level:       cfg.LogLevel,
		Pretty:      cfg.LogPretty,
		ServiceName: "om-delivery",
	})
	log := logging.L()

	// Redis carries receipt notifications between instances and caches status breakdowns.
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled() {
		redisCache = cache.NewRedisCache(cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis connection failed, running without cache and with local notifications")
			redisCache.Close()
			redisCache = nil
		} else {
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")
		}
		cancel()
	}
	statusCache := cache.NewStatusCache(redisCache, cfg.StatusCacheTTL)

	var notifier store.Notifier
	if redisCache != nil {
		notifier = store.NewRedisNotifier(redisCache.Client())
	} else {
		notifier = store.NewLocalNotifier()
	}

	// Postgres when configured, otherwise a single-node in-memory setup.
	var (
		statusStore store.Store
		groupRepo   repository.GroupRepositoryInterface
	)
	if cfg.Database.Enabled() {
		db, err := repository.InitDB(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		statusStore = store.NewGormStore(
			repository.NewMessageRepository(db),
			repository.NewReceiptRepository(db),
			notifier,
			cfg.TrackerBuffer,
		)
		groupRepo = repository.NewGroupRepository(db)
	} else {
		log.Warn().Msg("DB_HOST/DB_NAME not set, using in-memory store")
		statusStore = store.NewMemoryStore(store.WithNotifier(notifier), store.WithBuffer(cfg.TrackerBuffer))
		groupRepo = repository.NewMemoryGroupRepository()
	}

	hub := ws.NewHub(cfg.WSPingInterval, 0)
	defer hub.Close()

	groupService := service.NewGroupService(groupRepo, statusCache)
	engine := delivery.New(
		statusStore,
		delivery.NewRoster(groupService),
		delivery.WithObserver(service.NewStatusPublisher(hub, statusCache)),
	)
	messageService := service.NewMessageService(statusStore, engine, groupService, statusCache, service.MessageServiceConfig{
		MaxMessageLength: cfg.MaxMessageLength,
		RecordRetries:    cfg.RecordRetries,
		RecordRetryDelay: cfg.RecordRetryDelay,
	})

	wsHandler := handlers.NewWebSocketHandler(messageService, engine, hub, cfg.WSDebug)
	messageHandler := handlers.NewMessageHandler(messageService, hub)
	groupHandler := handlers.NewGroupHandler(groupService)

	app := fiber.New(fiber.Config{
		AppName:               "OM Delivery",
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Output: os.Stdout,
		Format: `{"level":"info","request_id":"${locals:requestid}","status":${status},"method":"${method}","path":"${path}","latency":"${latency}"}` + "\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		AllowCredentials: cfg.AllowedOrigins != "" && cfg.AllowedOrigins != "*",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"clients": hub.Count(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api", middleware.OriginAllowed(cfg.Origins()), middleware.AuthRequired(cfg.JWTSecret))

	receipts := limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid, err := httpx.LocalUint(c, "userID"); err == nil {
				return "receipts:" + strconv.FormatUint(uint64(uid), 10)
			}
			return c.IP()
		},
	})

	conv := api.Group("/conversations/:conversationID")
	conv.Post("/messages", messageHandler.SendMessage)
	conv.Post("/read", receipts, messageHandler.MarkConversationRead)
	conv.Post("/messages/:messageID/delivered", receipts, messageHandler.MarkDelivered)
	conv.Post("/messages/:messageID/read", receipts, messageHandler.MarkRead)
	conv.Get("/messages/:messageID/status", messageHandler.GetStatus)

	api.Post("/groups", groupHandler.CreateGroup)
	api.Get("/groups", groupHandler.GetMyGroups)
	api.Post("/groups/:id/members", groupHandler.AddMember)
	api.Post("/groups/:id/leave", groupHandler.LeaveGroup)
	api.Get("/groups/:id/members", groupHandler.GetGroupMembers)

	app.Use(
		"/ws",
		middleware.OriginAllowed(cfg.Origins()),
		middleware.AuthRequired(cfg.JWTSecret),
		middleware.WebSocketUpgrade(),
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	var conn closer
	if redisCache != nil {
		conn = redisCache
	}
	shutdown(log, app, notifier, conn)
}

type closer interface {
	Close() error
}

type stopper interface {
	ShutdownWithTimeout(timeout time.Duration) error
}

// shutdown stops the HTTP server, then the notifier, then the Redis
// connection. Notifier subscriptions run on that connection, so they are
// released first. conn may be nil.
func shutdown(log *zerolog.Logger, app stopper, notifier store.Notifier, conn closer) {
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	if err := notifier.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close notifier")
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis")
		}
	}
}
