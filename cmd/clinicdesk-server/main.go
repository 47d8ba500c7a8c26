package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinicdesk/internal/config"
	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
	"github.com/clinicdesk/clinicdesk/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicdesk-server",
		Short: "Appointment scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Write a forward migration that reverses the change instead.")
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeoutSeconds > 0 {
		e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))
	}

	// Auth: API keys are checked first so machine clients never hit JWT
	// validation; browser traffic falls through to dev identity or JWT.
	apiKeys := auth.NewAPIKeyManager(auth.NewInMemoryAPIKeyStore())
	e.Use(auth.APIKeyMiddleware(apiKeys))

	revocations := auth.NewTokenRevocationStore()
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      cfg.AuthIssuer,
			Audience:    cfg.AuthAudience,
			JWKSURL:     cfg.AuthJWKSURL,
			SigningKey:  signingKey(cfg.JWTSecret),
			Revocations: revocations,
			Skipper:     auth.AuthSkipper,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Lifecycle event consumers. The log-backed sender covers development
	// and staging; deployments with a mail or SMS provider swap in real
	// sender implementations here.
	logSender := &notification.LogSender{Logger: logger}
	notices := notification.NewManager(logSender, logSender, notification.NewTemplateEngine())
	hooks := webhook.NewDispatcher(webhook.NewMemoryStore())

	var sinks scheduling.MultiSink
	if cfg.NotifyRecipient != "" {
		sinks = append(sinks, scheduling.NewNotificationSink(
			notices, scheduling.StaticRecipient(cfg.NotifyRecipient), logger))
	}
	sinks = append(sinks, scheduling.NewWebhookSink(hooks, logger))

	// Scheduler
	slotCfg, err := buildSlotConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid schedule configuration")
	}
	repo := scheduling.NewAppointmentRepoPG(pool)
	svc := scheduling.NewService(repo, slotCfg, sinks, logger)

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Routes
	scheduling.NewHandler(svc).RegisterRoutes(apiV1)
	auth.RegisterRevocationRoutes(apiV1, revocations)
	auth.NewAPIKeyHandler(apiKeys).RegisterRoutes(
		apiV1.Group("/auth/keys", auth.RequireRole("admin")))
	notification.NewHandler(notices).RegisterRoutes(
		apiV1.Group("/notifications", auth.RequireRole("admin", "assistant")))
	webhook.NewHandler(hooks).RegisterRoutes(
		apiV1.Group("/webhooks", auth.RequireRole("admin", "assistant")))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// DB health check endpoint
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var serveErr error
		if cfg.TLSEnabled {
			serveErr = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			serveErr = e.Start(addr)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatal().Err(serveErr).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildSlotConfig maps the configured practice hours and slot grid onto the
// scheduler's availability settings.
func buildSlotConfig(cfg *config.Config) (scheduling.SlotConfig, error) {
	slots, err := scheduling.SlotConfigFromStrings(
		cfg.ScheduleDayOpen, cfg.ScheduleDayClose,
		cfg.ScheduleSlotMinutes, cfg.ScheduleBufferMinutes,
	)
	if err != nil {
		return scheduling.SlotConfig{}, fmt.Errorf("schedule config: %w", err)
	}
	slots.CacheSize = cfg.SlotCacheSize
	slots.CacheTTL = time.Duration(cfg.SlotCacheTTLSeconds) * time.Second
	return slots, nil
}

// signingKey converts an optional HMAC secret into key bytes. An empty
// secret yields nil so the JWT middleware falls back to JWKS validation.
func signingKey(secret string) []byte {
	if secret == "" {
		return nil
	}
	return []byte(secret)
}
