package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/viper"

	"github.com/cheildo/urbanshadows-lobby/internal/auth"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/database"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/logging"
)

func main() {
	// --- Configuration Loading using Viper ---
	viper.SetConfigName("auth-service")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs/development")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("Failed to read configuration file", "error", err)
		os.Exit(1)
	}

	if _, err := logging.New(viper.GetString("logging.level"), viper.GetString("logging.format")); err != nil {
		slog.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}

	// --- Database Connection ---
	dbConnStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		viper.GetString("database.host"),
		viper.GetString("database.port"),
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.db_name"),
		viper.GetString("database.ssl_mode"),
	)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.NewPostgresDB(connectCtx, database.Config{
		DSN:          dbConnStr,
		MaxOpenConns: viper.GetInt("database.max_open_conns"),
	})
	connectCancel()
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database connection successful.")

	// --- Dependency Injection ---
	repo := auth.NewRepository(db)
	svc := auth.NewService(repo, auth.Config{
		JWTSecret:     viper.GetString("jwt.secret_key"),
		TokenDuration: viper.GetDuration("jwt.token_duration_minutes") * time.Minute,
	})

	// --- HTTP Router and Middleware Setup ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	auth.NewHTTPHandler(svc).Routes(r)

	httpPort := viper.GetString("http_server.port")
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", httpPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Auth HTTP server listening", "port", httpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down auth server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	slog.Info("Auth server shut down gracefully.")
}
