package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stanstork/lms-import/internal/cache"
	"github.com/stanstork/lms-import/internal/config"
	"github.com/stanstork/lms-import/internal/handlers"
	"github.com/stanstork/lms-import/internal/importer"
	"github.com/stanstork/lms-import/internal/middleware"
	"github.com/stanstork/lms-import/internal/migration"
	"github.com/stanstork/lms-import/internal/notification"
	"github.com/stanstork/lms-import/internal/repository"
	"github.com/stanstork/lms-import/internal/routes"
	"github.com/stanstork/lms-import/internal/storage"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	notifications notification.Service
	tables        cache.TableCache
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)
	zlog.Logger = logger

	// Load configuration.
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(db, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize notification service.
	notificationRepo := repository.NewNotificationRepository(db)
	notificationService := notification.NewService(notificationRepo, logger, notification.NewLogNotifier(logger))

	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: notificationService,
		tables:        newTableCache(cfg.Redis, logger),
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	recovered := h.RecoveryHandler(h.RecoveryLogger(recoveryLogger{logger}), h.PrintRecoveryStack(true))(loggedRouter)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.CORS.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(recovered)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	bucket, err := storage.NewOSBucket(app.config.Storage.RootDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open import storage")
	}

	// Repositories
	importService := importer.NewService(importer.Deps{
		Jobs:        repository.NewImportJobRepository(app.db),
		Courses:     repository.NewCourseRepository(app.db),
		Accounts:    repository.NewAccountRepository(app.db),
		Enrollments: repository.NewEnrollmentRepository(app.db),
		Files:       bucket,
		Cache:       app.tables,
		Notifier:    app.notifications,
	}, importer.Config{
		MaxUploadBytes:   app.config.Storage.MaxUploadBytes,
		SampleErrorLimit: app.config.Import.SampleErrorLimit,
		PreviewRows:      app.config.Import.PreviewRows,
		CommitErrorLimit: app.config.Import.CommitErrorLimit,
	}, logger)

	// Handlers
	importHandler := handlers.NewImportHandler(importService, app.config.Storage.MaxUploadBytes, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(app.config.JWTSecret, importHandler, notificationHandler)
}

// newTableCache connects to Redis when enabled; without it every stage re-parses the stored file.
func newTableCache(cfg config.RedisConfig, logger zerolog.Logger) cache.TableCache {
	if !cfg.Enabled {
		return cache.Noop{}
	}
	rc, err := cache.NewRedisCache(cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
	if err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, parsed tables will not be cached")
		return cache.Noop{}
	}
	logger.Info().Str("addr", cfg.Addr).Msg("Caching parsed import tables in Redis")
	return rc
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from handler panic")
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
