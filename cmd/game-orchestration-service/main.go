package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cheildo/urbanshadows-lobby/internal/orchestration"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/kafka"
	"github.com/cheildo/urbanshadows-lobby/internal/pkg/logging"
)

const serviceName = "urbanshadows.orchestration"

// Main application struct to hold dependencies.
type application struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   *orchestration.Listener
}

func main() {
	// --- Configuration ---
	viper.SetConfigName("game-orchestration-service")
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

	// --- Kafka Initialization ---
	consumer := kafka.NewConsumer(
		viper.GetStringSlice("kafka.brokers"),
		viper.GetString("kafka.travel_topic"),
		viper.GetString("kafka.consumer_group_id"),
	)
	producer := kafka.NewProducer(
		viper.GetStringSlice("kafka.brokers"),
		viper.GetString("kafka.server_ready_topic"),
	)

	// --- Dependency Injection ---
	app := &application{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		listener:   orchestration.NewListener(consumer, producer),
	}

	// --- Start Servers ---
	ctx, cancel := context.WithCancel(context.Background())

	go app.startGRPCServer(viper.GetString("grpc_server.port"))
	go app.listener.Run(ctx)

	app.startDiagnosticsServer(viper.GetString("diagnostics.port"))

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down servers...")
	app.health.Shutdown()
	cancel() // Signal goroutines to stop
	app.grpcServer.GracefulStop()
	slog.Info("Servers shut down gracefully.")
}

func (app *application) startGRPCServer(port string) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		slog.Error("Failed to listen on gRPC port", "port", port, "error", err)
		os.Exit(1)
	}

	healthpb.RegisterHealthServer(app.grpcServer, app.health)
	app.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(app.grpcServer)

	slog.Info("Orchestration gRPC server listening", "address", lis.Addr().String())
	if err := app.grpcServer.Serve(lis); err != nil {
		slog.Error("gRPC server failed to serve", "error", err)
	}
}

// startDiagnosticsServer serves pprof and the listen-server count.
func (app *application) startDiagnosticsServer(port string) {
	http.HandleFunc("/debug/servers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"running_servers": app.listener.GetRunningServers()})
	})
	go func() {
		slog.Info("Starting diagnostics server", "port", port)
		if err := http.ListenAndServe(fmt.Sprintf(":%s", port), nil); err != nil {
			slog.Error("Diagnostics server failed to start", "error", err)
		}
	}()
}
