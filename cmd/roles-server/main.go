// Package main provides the entry point for the role resolution server
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/authz-engine/roles-core/internal/apikey"
	"github.com/authz-engine/roles-core/internal/cache"
	"github.com/authz-engine/roles-core/internal/metrics"
	"github.com/authz-engine/roles-core/internal/rolestore"
	"github.com/authz-engine/roles-core/internal/server"
	"github.com/authz-engine/roles-core/internal/serviceaccount"
	"github.com/authz-engine/roles-core/internal/subject"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		httpAddr          = flag.String("http-addr", ":8080", "Admin HTTP listen address")
		rolesDir          = flag.String("roles-dir", "", "Directory of file-defined roles")
		watchRoles        = flag.Bool("watch-roles", true, "Watch the roles directory for changes")
		dbDSN             = flag.String("db-dsn", "", "PostgreSQL DSN for stored roles (empty disables the native provider)")
		redisAddr         = flag.String("redis-addr", "", "Redis address for distributed invalidation (empty disables)")
		redisChannel      = flag.String("redis-channel", "roles-core:invalidations", "Redis pub/sub channel for invalidations")
		cacheSize         = flag.Int("cache-size", 10000, "Maximum role cache entries")
		cacheTTL          = flag.Duration("cache-ttl", 0, "Role cache TTL (0 disables expiry)")
		negativeCacheSize = flag.Int("negative-cache-size", 10000, "Maximum negative lookup cache entries")
		anonymousUser     = flag.String("anonymous-username", "", "Anonymous user principal (empty disables anonymous access)")
		anonymousRoles    = flag.String("anonymous-roles", "", "Comma-separated anonymous user roles")
		logLevel          = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat         = flag.String("log-format", "json", "Log format (json, console)")
		logFile           = flag.String("log-file", "", "Log file with rotation (empty logs to stderr)")
		showVersion       = flag.Bool("version", false, "Show version information")
		gracefulTimeout   = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("roles-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting role resolution server",
		zap.String("version", Version),
		zap.String("http_addr", *httpAddr),
	)

	// File roles provider.
	var fileProvider *rolestore.FileRolesProvider
	if *rolesDir != "" {
		fileProvider, err = rolestore.NewFileRolesProvider(*rolesDir, logger)
		if err != nil {
			logger.Fatal("Failed to load file roles", zap.Error(err))
		}
		if *watchRoles {
			if err := fileProvider.Watch(); err != nil {
				logger.Fatal("Failed to watch roles directory", zap.Error(err))
			}
		}
		defer fileProvider.Close()
	}

	// Native roles provider over PostgreSQL.
	var nativeProvider rolestore.RolesProvider
	if *dbDSN != "" {
		db, err := sql.Open("postgres", *dbDSN)
		if err != nil {
			logger.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()
		if err := rolestore.MigrateUp(db); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		nativeProvider = rolestore.NewNativeRolesProvider(db, logger)
	}

	providers := rolestore.NewRoleProviders(rolestore.RoleProvidersConfig{
		File:   fileProvider,
		Native: nativeProvider,
		Logger: logger,
	})

	var anonymous *subject.AnonymousUser
	if *anonymousUser != "" {
		anonymous = &subject.AnonymousUser{
			Principal: *anonymousUser,
			Roles:     splitNonEmpty(*anonymousRoles),
			Enabled:   true,
		}
	}

	m := metrics.NewPrometheusMetrics("roles_core")
	store := rolestore.NewCompositeRolesStore(rolestore.CompositeRolesStoreOptions{
		Config: rolestore.Config{
			RoleCacheSize:     *cacheSize,
			RoleCacheTTL:      *cacheTTL,
			NegativeCacheSize: *negativeCacheSize,
		},
		Providers:      providers,
		ApiKeyService:  apikey.NewService(logger),
		ServiceAccount: serviceaccount.NewService(logger),
		Anonymous:      anonymous,
		Metrics:        m,
		Logger:         logger,
	})
	defer store.Stop()

	// Distributed invalidation.
	var invalidator *cache.Invalidator
	if *redisAddr != "" {
		invalidator, err = cache.NewInvalidator(cache.InvalidatorConfig{
			Addr:    *redisAddr,
			Channel: *redisChannel,
		}, store, logger)
		if err != nil {
			logger.Fatal("Failed to create invalidator", zap.Error(err))
		}
		if err := invalidator.Start(); err != nil {
			logger.Fatal("Failed to start invalidator", zap.Error(err))
		}
		defer invalidator.Stop()
	}

	adminSrv, err := server.New(server.Config{
		Addr:         *httpAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      Version,
	}, store, invalidator, m, logger)
	if err != nil {
		logger.Fatal("Failed to create admin server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- adminSrv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer cancel()
		if err := adminSrv.Shutdown(ctx); err != nil {
			logger.Warn("Admin server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Server stopped successfully")
}

// initLogger initializes the zap logger, optionally writing to a rotating
// file.
func initLogger(level, format, file string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var sink zapcore.WriteSyncer
	if file != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, zapLevel)
	return zap.New(core, zap.AddCaller()), nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
