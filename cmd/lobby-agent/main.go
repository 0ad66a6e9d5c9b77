package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cheildo/urbanshadows-lobby/internal/apigateway"
	"github.com/cheildo/urbanshadows-lobby/internal/auth"
	"github.com/cheildo/urbanshadows-lobby/internal/config"
	"github.com/cheildo/urbanshadows-lobby/internal/lobby"
	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
	"github.com/cheildo/urbanshadows-lobby/internal/orchestration"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/database"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/kafka"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/logging"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/redis"
	"github.com/cheildo/urbanshadows-lobby/internal/playerprofile"
)

const serviceName = "urbanshadows.lobby"

func main() {
	// --- Configuration Loading ---
	cfg, err := config.Load("./configs/development")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if _, err := logging.New(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		slog.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Profile Store (optional) ---
	var db *sql.DB
	if cfg.Database.DSN != "" {
		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		db, err = database.NewPostgresDB(connectCtx, database.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		connectCancel()
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("Database connection successful.")
	}

	// --- Local Identity ---
	identity, err := resolveIdentity(ctx, cfg.Identity, db)
	if err != nil {
		slog.Error("Failed to resolve local identity", "error", err)
		os.Exit(1)
	}
	slog.Info("Local identity resolved", "playerID", identity.UserID, "displayName", identity.DisplayName)

	// --- Matchmaking Provider ---
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		slog.Error("Failed to set up matchmaking provider", "backend", cfg.Provider.Backend, "error", err)
		os.Exit(1)
	}
	if err := provider.Initialize(ctx); err != nil {
		slog.Error("Failed to initialize matchmaking provider", "error", err)
		os.Exit(1)
	}

	// --- Travel + Server Ready ---
	var traveler lobby.Traveler = logTraveler{}
	var readyConsumer func(apigateway.Lobby, *apigateway.Hub) *apigateway.ServerReadyConsumer
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TravelTopic)
		defer producer.Close()
		traveler = orchestration.NewKafkaTraveler(producer, identity.UserID, cfg.Lobby.HostAddress)

		readyConsumer = func(l apigateway.Lobby, hub *apigateway.Hub) *apigateway.ServerReadyConsumer {
			// A group per player so every agent sees every announcement.
			reader := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ServerReadyTopic, "lobby-agent-"+identity.UserID)
			return apigateway.NewServerReadyConsumer(reader, hub, l)
		}
	} else {
		slog.Warn("No Kafka brokers configured; travel requests are only logged")
	}

	// --- Lobby Machine ---
	machine := lobby.NewMachine(provider, traveler, identity, lobby.Config{
		GameKey:           cfg.Lobby.GameKey,
		Region:            cfg.Lobby.Region,
		HostAddress:       cfg.Lobby.HostAddress,
		OperationTimeout:  cfg.Lobby.OperationTimeout,
		DefaultMaxResults: cfg.Lobby.DefaultMaxResults,
	})
	machine.Start(ctx)

	hub := apigateway.NewHub()
	if err := machine.Subscribe(hub); err != nil {
		slog.Error("Failed to subscribe push hub", "error", err)
		os.Exit(1)
	}
	if readyConsumer != nil {
		go readyConsumer(machine, hub).Run(ctx)
	}

	var avatars lobby.AvatarResolver
	if db != nil {
		avatars = playerprofile.NewAvatarStore(playerprofile.NewRepository(db))
	}

	// --- HTTP Router and Middleware Setup ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	apigateway.NewLobbyHandler(machine, avatars, identity.DisplayName).Routes(r)
	r.Handle("/ws", apigateway.NewWebsocketHandler(hub, machine))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Lobby agent HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// --- gRPC Health ---
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("Failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	go func() {
		slog.Info("Lobby agent gRPC server listening", "address", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server failed to serve", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down lobby agent...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Give up our slot so the session does not advertise a ghost member.
	if machine.State() != lobby.StateIdle {
		select {
		case err := <-machine.Leave(shutdownCtx):
			if err != nil {
				slog.Warn("Failed to leave session on shutdown", "error", err)
			}
		case <-shutdownCtx.Done():
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	cancel()
	<-machine.Done()
	grpcServer.GracefulStop()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Matchmaking provider shutdown failed", "error", err)
	}
	slog.Info("Lobby agent stopped.")
}

// resolveIdentity verifies the configured token and, when a profile store is
// available, takes the display name and avatar from the player's profile.
func resolveIdentity(ctx context.Context, cfg config.IdentityConfig, db *sql.DB) (matchmaking.Identity, error) {
	claims, err := auth.ParseToken(cfg.JWTSecret, cfg.Token)
	if err != nil {
		return matchmaking.Identity{}, err
	}
	identity := matchmaking.Identity{UserID: claims.PlayerID, DisplayName: claims.DisplayName}
	if db == nil {
		return identity, nil
	}

	profile, err := playerprofile.NewRepository(db).GetProfile(ctx, claims.PlayerID)
	switch {
	case errors.Is(err, playerprofile.ErrProfileNotFound):
		slog.Warn("No profile for player; using token display name", "playerID", claims.PlayerID)
	case err != nil:
		return matchmaking.Identity{}, fmt.Errorf("loading profile: %w", err)
	default:
		identity.DisplayName = profile.DisplayName
		identity.AvatarHandle = profile.AvatarHandle
	}
	return identity, nil
}

func newProvider(ctx context.Context, cfg config.Config) (matchmaking.Provider, error) {
	if cfg.Provider.Backend == config.BackendMemory {
		slog.Warn("Using in-process matchmaking pool; sessions are only visible to this agent")
		return matchmaking.NewMemoryProvider(), nil
	}
	rdb, err := redis.NewClient(ctx, redis.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Redis connection successful.")
	return matchmaking.NewRedisProvider(rdb, cfg.Provider.PoolKey, cfg.Provider.SessionTTL), nil
}

// logTraveler stands in for the gameplay layer when Kafka is not configured.
type logTraveler struct{}

func (logTraveler) TravelAsHost(_ context.Context, s matchmaking.SessionDescriptor) error {
	slog.Info("Travel as host", "sessionID", s.ID, "map", s.MapName)
	return nil
}

func (logTraveler) TravelAsClient(_ context.Context, s matchmaking.SessionDescriptor, address string) error {
	slog.Info("Travel as client", "sessionID", s.ID, "address", address)
	return nil
}

func (logTraveler) StartGameplay(_ context.Context, s matchmaking.SessionDescriptor) error {
	slog.Info("Start gameplay", "sessionID", s.ID)
	return nil
}

func (logTraveler) StopHosting(_ context.Context, s matchmaking.SessionDescriptor) error {
	slog.Info("Stop hosting", "sessionID", s.ID)
	return nil
}
