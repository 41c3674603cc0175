package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/makerere-aits/aits-api/api/swagger"
	"github.com/makerere-aits/aits-api/internal/handler"
	"github.com/makerere-aits/aits-api/internal/middleware"
	"github.com/makerere-aits/aits-api/internal/models"
	"github.com/makerere-aits/aits-api/internal/repository"
	"github.com/makerere-aits/aits-api/internal/service"
	"github.com/makerere-aits/aits-api/pkg/cache"
	"github.com/makerere-aits/aits-api/pkg/config"
	"github.com/makerere-aits/aits-api/pkg/database"
	"github.com/makerere-aits/aits-api/pkg/logger"
	"github.com/makerere-aits/aits-api/pkg/mailer"
	corsmiddleware "github.com/makerere-aits/aits-api/pkg/middleware/cors"
	reqidmiddleware "github.com/makerere-aits/aits-api/pkg/middleware/requestid"
	"github.com/makerere-aits/aits-api/pkg/storage"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// @title AITS API
// @version 1.0.0
// @description Academic issue tracking backend
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
			redisClient = nil
		}
	}

	localStore, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init attachment storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	var mail mailer.Mailer
	if cfg.Mail.Enabled && cfg.Mail.Provider == "sendgrid" && cfg.Mail.SendgridKey != "" {
		mail = mailer.NewSendgrid(cfg.Mail.SendgridKey, cfg.Mail.FromName, cfg.Mail.FromEmail)
	} else {
		mail = mailer.NewConsole(logr)
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	policy := service.NewAccessPolicy()
	metricsSvc := service.NewMetricsService()
	notificationSvc := service.NewNotificationService(notificationRepo, cacheRepo, mail, logr, cfg.Notifications.UnreadCountTTL, cfg.Notifications.QueueBufferSize).WithMetrics(metricsSvc)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.SiteURL,
	})
	issueSvc := service.NewIssueService(issueRepo, userRepo, courseRepo, categoryRepo, enrollmentRepo, policy, notificationSvc, validate, logr, cfg.Notifications.EmailOnStatusChange)
	auditSvc := service.NewAuditService(auditRepo, issueRepo, policy, logr)
	courseSvc := service.NewCourseService(courseRepo, userRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, courseRepo, policy, validate, logr)
	categorySvc := service.NewCategoryService(categoryRepo, validate, logr)
	userSvc := service.NewUserService(userRepo, validate, logr)
	attachmentSvc := service.NewAttachmentService(issueRepo, policy, localStore, signer, logr, cfg.Attachments.MaxFileSizeBytes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	issueHandler := handler.NewIssueHandler(issueSvc, auditSvc, attachmentSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	categoryHandler := handler.NewCategoryHandler(categorySvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		protected := auth.Group("")
		protected.Use(middleware.JWT(authSvc))
		protected.POST("/logout", authHandler.Logout)
		protected.GET("/me", authHandler.Me)
		protected.POST("/change-password", authHandler.ChangePassword)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	{
		issues := secured.Group("/issues")
		issues.GET("", issueHandler.List)
		issues.POST("", issueHandler.Create)
		issues.GET("/:id", issueHandler.Get)
		issues.POST("/:id/assign", issueHandler.Assign)
		issues.POST("/:id/status", issueHandler.ChangeStatus)
		issues.POST("/:id/grade", issueHandler.UpdateGrade)
		issues.GET("/:id/comments", issueHandler.ListComments)
		issues.POST("/:id/comments", issueHandler.AddComment)
		issues.GET("/:id/audit", issueHandler.AuditTrail)
		issues.GET("/:id/audit/export", issueHandler.ExportAuditTrail)
		issues.POST("/:id/attachment", issueHandler.UploadAttachment)
		issues.GET("/:id/attachment/token", issueHandler.AttachmentToken)

		notifications := secured.Group("/notifications")
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
		notifications.POST("/:id/read", notificationHandler.MarkRead)

		courses := secured.Group("/courses")
		courses.GET("", courseHandler.List)
		courses.GET("/mine", middleware.RequireRoles(models.RoleLecturer), courseHandler.MyCourses)
		courses.GET("/:id", courseHandler.Get)
		courses.POST("", middleware.RequireRoles(models.RoleAdmin), courseHandler.Create)
		courses.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), courseHandler.Update)

		enrollments := secured.Group("/enrollments")
		enrollments.GET("", enrollmentHandler.List)
		enrollments.POST("", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Create)

		categories := secured.Group("/categories")
		categories.GET("", categoryHandler.List)
		categories.GET("/:id", categoryHandler.Get)
		categories.POST("", middleware.RequireRoles(models.RoleAdmin), categoryHandler.Create)
		categories.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), categoryHandler.Update)

		users := secured.Group("/users")
		users.Use(middleware.RequireRoles(models.RoleAdmin))
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.POST("", userHandler.Create)

		secured.GET("/metrics/snapshot", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)
	}

	// Token-authenticated download; the signed token is the credential.
	api.GET("/attachments", issueHandler.DownloadAttachment)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	_ = cacheRepo.Close()
}
