// Package server contains the HTTP and WebSocket handlers of the admin API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chapterhub/internal/bootstrap"
	"chapterhub/internal/config"
	"chapterhub/internal/featureflags"
	"chapterhub/internal/middleware"
	"chapterhub/internal/models"
	"chapterhub/internal/notifications"
	"chapterhub/internal/service"
	"chapterhub/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	blobs          storage.BlobStore
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	featureFlags   *featureflags.Manager

	notifier *notifications.Notifier
	hub      *notifications.Hub
	relay    *notifications.Relay

	audit       *service.AuditService
	outbox      *service.OutboxService
	tenants     *service.TenantResolver
	quota       *service.QuotaService
	uploads     *service.UploadService
	moderation  *service.ModerationService
	bans        *service.BanService
	content     *service.ContentService
	users       *service.UserService
	apps        *service.ApplicationService
	analytics   *service.AnalyticsService
	insights    *service.InsightsService
	media       *service.MediaVerifier
	maintenance *service.Maintenance
}

// NewServer connects the database, Redis and blob storage and builds a server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SeedBuiltIns: cfg.SeedBuiltInTenants})
	if err != nil {
		return nil, err
	}

	blobs, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("blob storage: %w", err)
	}

	return NewServerWithDeps(cfg, db, rdb, blobs)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; the live feed and the outbox relay are then disabled.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, blobs storage.BlobStore) (*Server, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob storage is required")
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		blobs:          blobs,
		promMiddleware: middleware.InitMetrics("chapterhub-api"),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	s.audit = service.NewAuditService(db)
	s.outbox = service.NewOutboxService(db)
	s.tenants = service.NewTenantResolver(db, cfg.ParsedTenantAliases(), redisClient)
	s.quota = service.NewQuotaService(db, cfg.QuotaDefaults(), s.audit)
	s.uploads = service.NewUploadService(service.UploadDeps{
		DB:        db,
		Blobs:     blobs,
		Tenants:   s.tenants,
		Quota:     s.quota,
		Audit:     s.audit,
		Outbox:    s.outbox,
		Flags:     s.featureFlags,
		MaxSizeMB: cfg.UploadMaxSizeMB,
	})
	flagSLO := time.Duration(cfg.FlagSLOMinutes) * time.Minute
	s.moderation = service.NewModerationService(db, s.audit, s.outbox, flagSLO)
	s.bans = service.NewBanService(db, s.audit, s.outbox)
	s.content = service.NewContentService(db, s.audit, s.outbox)
	s.users = service.NewUserService(db, s.tenants, s.audit, s.outbox, cfg.BcryptCost)
	s.apps = service.NewApplicationService(db, s.audit, s.outbox)
	s.analytics = service.NewAnalyticsService(db, redisClient, s.quota, s.audit, service.AnalyticsConfig{
		MaxAge:            time.Duration(cfg.SnapshotMaxAgeHours) * time.Hour,
		FlagSLO:           flagSLO,
		QuotaWarningRatio: cfg.QuotaWarningRatio,
	})
	s.insights = service.NewInsightsService(db)
	s.media = service.NewMediaVerifier(db, blobs, s.audit, s.outbox)
	s.maintenance = service.NewMaintenance(db, s.bans, s.analytics,
		time.Duration(cfg.SnapshotIntervalMinutes)*time.Minute)

	s.notifier = notifications.NewNotifier(redisClient)
	s.relay = notifications.NewRelay(db, s.notifier, notifications.RelayConfig{
		PollInterval: time.Duration(cfg.OutboxPollIntervalMS) * time.Millisecond,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	})
	if redisClient != nil {
		s.hub = notifications.NewHub()
	}

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				fiber.NewError(fiber.StatusTooManyRequests, "Too many requests, please try again later."))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Chapterhub Metrics Dashboard",
	}))

	protected := api.Group("", s.AuthRequired())

	// Member-facing entry points into moderation and instructor onboarding.
	protected.Post("/flags", middleware.RateLimit(s.redis, 10, time.Minute, "report_content"), s.ReportContent)
	protected.Post("/applications", s.ApplyForInstructor)

	admin := protected.Group("/admin")

	users := admin.Group("/users")
	users.Get("/", s.ListUsers)
	users.Post("/", s.CreateUser)
	users.Patch("/:id/role", s.ChangeUserRole)
	users.Patch("/:id/status", s.SetUserStatus)
	users.Patch("/:id", s.UpdateUser)

	content := admin.Group("/content")
	content.Post("/", middleware.RateLimit(s.redis, 30, time.Minute, "upload"), s.SubmitUpload)
	content.Get("/", s.ListUploads)
	content.Post("/:id/approve", s.ApproveUpload)
	content.Post("/:id/reject", s.RejectUpload)
	content.Post("/:id/retry", s.RetryUpload)
	content.Patch("/:type/:id", s.EditContent)
	content.Get("/:id", s.GetUpload)

	admin.Get("/quotas", s.ListQuotas)
	admin.Put("/quotas", s.SetQuotaLimit)

	admin.Get("/flags", s.ListFlags)
	admin.Post("/flags/:id/review", s.ReviewFlag)

	admin.Get("/ai-moderation", s.ListModeratedItems)
	admin.Post("/ai-moderation/:id", s.ReviewModeratedItem)

	admin.Get("/escalations", s.ListEscalations)
	admin.Post("/escalations/:id/resolve", s.ResolveEscalation)

	bans := admin.Group("/bans")
	bans.Get("/", s.ListBans)
	bans.Post("/user/:id", s.BanUser)
	bans.Delete("/user/:id", s.UnbanUser)
	bans.Post("/post/:id", s.BanPost)
	bans.Delete("/post/:id", s.UnbanPost)

	admin.Get("/applications", s.ListApplications)
	admin.Post("/applications/:id/review", s.ReviewApplication)

	admin.Get("/analytics", s.GetAnalytics)
	admin.Post("/analytics/regenerate", s.RegenerateAnalytics)
	admin.Get("/accuracy/:snapshotId", s.VerifyAccuracy)
	admin.Get("/anomalies", s.GetAnomalies)
	admin.Get("/retention", s.GetRetention)
	admin.Get("/audit", s.QueryAudit)
	admin.Get("/outbox", s.ListOutbox)
	admin.Get("/feature-flags", s.GetFeatureFlags)

	admin.Post("/ws/ticket", s.IssueWSTicket)
	admin.Get("/ws", s.AdminFeedHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: without
// it the service still serves requests and the outbox keeps accumulating.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case dbStatus != "healthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus != "healthy":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"blobs":    s.blobs.Name(),
		},
		"time": time.Now().UTC(),
	})
}

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "Chapterhub Admin API",
		BodyLimit: s.bodyLimit(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return models.RespondError(c, err)
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

func (s *Server) bodyLimit() int {
	mb := s.config.UploadMaxSizeMB
	if mb <= 0 {
		mb = service.DefaultUploadMaxSizeMB
	}
	// Headroom for multipart framing and descriptive fields.
	return (mb + 1) * 1024 * 1024
}

// StartWorkers launches the background workers under the server-scoped context.
func (s *Server) StartWorkers() {
	ctx := s.serverContext()

	if s.config.MediaWorkerEnabled {
		s.media.StartBackgroundWorker(ctx)
	}
	s.maintenance.StartBackgroundWorker(ctx)
	s.relay.StartBackgroundWorker(ctx)

	if s.hub != nil {
		go func() {
			if err := s.hub.StartWiring(ctx, s.notifier); err != nil {
				slog.Error("failed to start live feed wiring",
					slog.String("hub", s.hub.Name()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

func (s *Server) serverContext() context.Context {
	if s.shutdownCtx == nil {
		s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	}
	return s.shutdownCtx
}

// Start starts the workers and the HTTP listener.
func (s *Server) Start() error {
	s.serverContext()
	s.app = s.App()
	s.StartWorkers()

	slog.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			slog.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			slog.Error("error shutting down live feed", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			slog.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			slog.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	slog.Info("server shutdown complete")
	return nil
}
