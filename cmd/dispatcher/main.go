package main

import (
	"chat-dispatch/auth"
	"chat-dispatch/infrastructure/storage"
	"chat-dispatch/infrastructure/websocket"
	"chat-dispatch/internal"
	"chat-dispatch/observability"
	"chat-dispatch/runtime"
	"chat-dispatch/runtime/workers"
	"chat-dispatch/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server error.
// Returning instead of exiting lets the deferred cleanups run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return 2, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return 2, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return 1, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	messages, err := storage.NewMessageRepository(db, log)
	if err != nil {
		return 1, err
	}
	defer func() { _ = messages.Close() }()
	notifications := storage.NewNotificationRepository(db, log)
	sessions := storage.NewSessionRepository(db, log)
	groups := storage.NewGroupRepository(db, log)
	users := storage.NewUserRepository(db)

	// 3. Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(promRegistry)
	monitoring := observability.NewMonitoringManager(log)

	// 4. Dispatcher core
	validator := auth.NewSessionValidator(auth.NewTokens(config.JwtSecret), sessions)
	registry := runtime.NewRegistry(log, validator, metrics)
	router := runtime.NewRouter(log, registry, messages, notifications, groups, sessions, users, metrics, config.SendTimeout)
	service := services.NewDispatcherService(log, validator, registry, router, sessions,
		config.MaxContentLength, config.SendTimeout, config.RevalidateSessionPerEvent)
	handler := websocket.NewHandler(log, service, metrics, websocket.Options{
		WriteTimeout:    config.WriteTimeout,
		PongTimeout:     config.PongTimeout,
		MaxMessageSize:  config.MaxMessageSize,
		FramesPerSecond: config.FramesPerSecond,
		FramesBurst:     config.FramesBurst,
	})

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Background workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewHealthMonitoringWorker(log, registry, metrics, monitoring, config.MetricInterval))
	sup.Add(workers.NewStorageMaintenanceWorker(log, db, metrics, config.ValueLogGCInterval))
	supervisorDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supervisorDone)
	}()

	// 7. HTTP Server Setup
	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              config.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting dispatcher", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var debugServer *http.Server
	if strings.EqualFold(config.LogLevel, slog.LevelDebug.String()) {
		debugServer = internal.NewDebugServer(log, db, config.DebugPort, monitoring.AsMap)
		go func() {
			log.Info("Starting debug inspector", "address", debugServer.Addr)
			if err := debugServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				log.Warn("Debug inspector stopped", "error", err)
			}
		}()
	}

	// 8. Wait for Stop or Error
	exitCode := 0
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case runErr = <-errChan:
		exitCode = 1
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	// Websocket sockets are hijacked, Shutdown does not wait for them.
	// They must be done with the store before the deferred db.Close runs.
	handler.CloseAll()
	if err := handler.Wait(shutdownCtx); err != nil {
		log.Warn("Connections still running at shutdown", "error", err)
	}
	if debugServer != nil {
		_ = debugServer.Shutdown(shutdownCtx)
	}
	sup.Stop()
	<-supervisorDone
	log.Info("Program stopped cleanly")

	return exitCode, runErr
}
