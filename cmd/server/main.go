package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minhvudev/dealerdesk/internal/config"
	"github.com/minhvudev/dealerdesk/internal/handler"
	"github.com/minhvudev/dealerdesk/internal/middleware"
	"github.com/minhvudev/dealerdesk/internal/model"
	"github.com/minhvudev/dealerdesk/internal/repository"
	"github.com/minhvudev/dealerdesk/internal/service"
	"github.com/minhvudev/dealerdesk/migrations"
	"github.com/minhvudev/dealerdesk/pkg/auth"
	"github.com/minhvudev/dealerdesk/pkg/mailer"
	"github.com/minhvudev/dealerdesk/pkg/otpcode"
	"github.com/minhvudev/dealerdesk/pkg/sms"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// @title           DealerDesk Verification API
// @version         1.0
// @description     One-time-code verification, password reset and session issuance for dealer accounts.

// @contact.name   API Support
// @contact.email  support@dealerdesk.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	log.Printf("🚀 Starting DealerDesk Verification API [env=%s]", cfg.App.Env)

	// ==================== Database (PostgreSQL) ====================
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.App.Env == "production" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	// ==================== Run Migrations ====================
	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("⚠️  Migration warning: %v", err)
		log.Println("📦 Falling back to GORM AutoMigrate...")
		if err := db.AutoMigrate(
			&model.Account{},
			&model.Challenge{},
		); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
	}
	log.Println("✅ Database migrated successfully")

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// ==================== Dispatch channels ====================
	expiryMinutes := int(cfg.OTP.Expiry.Minutes())
	mailClient := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	}, expiryMinutes)
	log.Printf("📧 SMTP configured: %s:%s", cfg.SMTP.Host, cfg.SMTP.Port)

	smsClient := sms.New(sms.Config{
		GatewayURL: cfg.SMS.GatewayURL,
		APIKey:     cfg.SMS.APIKey,
		SenderID:   cfg.SMS.SenderID,
	})

	// ==================== Initialize Layers ====================
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	// Repositories
	accountRepo := repository.NewAccountRepository(db)
	challengeRepo := repository.NewChallengeRepository(db)

	// Services
	sessionService := service.NewSessionService(jwtManager, rdb, accountRepo, cfg.JWT.RefreshExpiry)
	otpService := service.NewOTPService(
		challengeRepo,
		accountRepo,
		mailClient,
		smsClient,
		sessionService,
		otpcode.NewHasher(cfg.OTP.HashSecret),
		service.ChallengePolicy{
			CodeLength:      cfg.OTP.CodeLength,
			Expiry:          cfg.OTP.Expiry,
			Cooldown:        cfg.OTP.Cooldown,
			MaxAttempts:     cfg.OTP.MaxAttempts,
			DispatchTimeout: cfg.OTP.DispatchTimeout,
			DebugLogCodes:   cfg.OTP.DebugLogCodes,
		},
	)

	// Handlers
	authHandler := handler.NewAuthHandler(otpService, sessionService, accountRepo)

	// ==================== Challenge sweeper ====================
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				otpService.SweepExpired(sweepCtx, 24*time.Hour)
			}
		}
	}()

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Swagger configuration
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	url := ginSwagger.URL("/docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	// Global middleware
	router.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "dealerdesk-api",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// ==================== API Routes ====================
	api := router.Group("/api/v1")
	{
		// Verification routes (public, behind the per-IP throttle)
		authGroup := api.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(5, 10))
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/otp/request", authHandler.RequestOTP)
			authGroup.POST("/otp/verify", authHandler.VerifyOTP)
			authGroup.POST("/password/reset", authHandler.ResetPassword)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(jwtManager, rdb))
		{
			protected.POST("/auth/logout", authHandler.Logout)
			protected.GET("/auth/profile", authHandler.GetProfile)
		}
	}

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	log.Printf("🌐 DealerDesk API running on http://0.0.0.0:%s", cfg.App.Port)
	log.Printf("📋 API docs: http://0.0.0.0:%s/swagger/index.html", cfg.App.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	sweepCancel()
	log.Println("✅ Server exited gracefully")
}
