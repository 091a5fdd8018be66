// Package app assembles the relay: store, runtime, services, transports
// and background workers.
package app

import (
	"context"
	"database/sql"
	"dm-relay/auth"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/grpc/chatv1"
	"dm-relay/infrastructure/gateway"
	"dm-relay/infrastructure/grpc/server"
	"dm-relay/infrastructure/postgres"
	"dm-relay/infrastructure/rest"
	"dm-relay/infrastructure/storage"
	"dm-relay/infrastructure/ws"
	"dm-relay/internal"
	"dm-relay/moderation"
	"dm-relay/observability"
	"dm-relay/runtime"
	"dm-relay/runtime/workers"
	"dm-relay/services"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
)

type App struct {
	Log        *slog.Logger
	Config     internal.Config
	Directory  *runtime.Directory
	Presence   *runtime.PresenceRegistry
	Monitoring *observability.MonitoringManager
	Supervisor *workers.Supervisor
	GRPC       *grpc.Server
	HTTP       http.Handler
	WS         *ws.Handler
	Debug      *internal.DebugServer

	Users    contract.IUserRepository
	Messages contract.IMessageRepository

	closers []func() error
}

// New opens the store and wires every component. Nothing runs until the
// caller starts the supervisor and serves the transports.
func New(ctx context.Context, config internal.Config, log *slog.Logger) (*App, error) {
	a := &App{Log: log, Config: config, Monitoring: observability.NewMonitoringManager(log)}
	db, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if _, err := services.ResetStaleStatuses(ctx, log, a.Users); err != nil {
		_ = a.Close()
		return nil, err
	}

	var censor runtime.Censor
	if config.EnableModeration {
		moderator, err := newModerator(config, log)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		censor = moderator
	}

	changes := make(chan domain.PresenceChange, config.BufferSize)
	a.Directory = runtime.NewDirectory(log, config.SinkTimeout)
	a.Presence = runtime.NewPresenceRegistry(log, a.Directory, changes)
	lifecycle := runtime.NewLifecycle(log, a.Directory, a.Presence)
	a.Directory.OnEvict(lifecycle.HandleEviction)
	dispatcher := runtime.NewDispatcher(log, a.Messages, a.Directory, censor, runtime.DispatcherConfig{
		EditWindow:       config.EditWindow,
		StoreTimeout:     config.StoreTimeout,
		MaxContentLength: config.MaxContentLength,
	})

	chatService := services.NewChatService(log, dispatcher, a.Presence, a.Users)
	authService := services.NewAuthService(log, a.Users, auth.NewAuthenticator(config.JWTSecret, config.AuthTokenDuration))
	gw := gateway.NewGateway(log, lifecycle, a.Directory, chatService)

	a.Presence.OnChange(observability.RecordPresence)
	dispatcher.OnDelivered(observability.RecordDelivered)
	lifecycle.OnSessionChange(observability.SessionJoined, observability.SessionLeft)
	gw.OnInbound(observability.RecordInbound)

	a.Supervisor = workers.NewSupervisor(log, config.RestartInterval)
	a.Supervisor.OnRestart(func(name string) { log.Warn("Worker restarted", "name", name) })
	a.Supervisor.Add(
		workers.NewPresenceWriterWorker(log, a.Users, changes, config.StoreTimeout),
		workers.NewChannelCapacityWorker(log,
			[]workers.NamedChannel{{Name: "presence_changes", Channel: changes}},
			observability.RecordChannel, config.MetricInterval),
		workers.NewHealthMonitoringWorker(log, a.Monitoring, func() (int, int) {
			return len(a.Directory.Sessions()), len(a.Directory.OnlineUsers())
		}, config.MetricInterval),
	)

	a.GRPC = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			sdkgrpc.UnaryLoggingInterceptor(log),
			server.AuthInterceptor(authService),
		),
		grpc.ChainStreamInterceptor(server.StreamAuthInterceptor(authService)),
	)
	chatv1.RegisterChatServiceServer(a.GRPC, server.NewChatServer(log, gw, chatService, config.ConnectionBufferSize))
	chatv1.RegisterAuthServiceServer(a.GRPC, server.NewAuthServer(authService))

	a.WS = ws.NewHandler(log, gw, authService, ws.Config{
		BufferSize:     config.ConnectionBufferSize,
		AllowedOrigins: config.Origins(),
	})
	a.HTTP = rest.NewRouter(log, rest.NewHandlers(log, authService, chatService, a.Directory), a.WS,
		rest.RouterConfig{
			AllowedOrigins:    config.Origins(),
			RateLimitRequests: config.RateLimitRequests,
			RateLimitWindow:   config.RateLimitWindow,
		})
	a.Debug = internal.NewDebugServer(log, a.Monitoring, a.Directory, a.Presence, db)
	return a, nil
}

// openStore returns the badger handle when badger is the store, nil otherwise.
func (a *App) openStore(ctx context.Context) (*badger.DB, error) {
	switch a.Config.StoreDriver {
	case internal.StorePostgres:
		db, err := postgres.Open(ctx, a.Config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres opening failed: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("postgres migration failed: %w", err)
		}
		a.usePostgres(db)
		return nil, nil
	default:
		db, err := storage.Open(a.Config.BadgerFilepath, a.Log)
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		messages, err := storage.NewMessageRepository(db, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, messages.Close)
		users, err := storage.NewUserRepository(db, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, users.Close)
		a.Messages, a.Users = messages, users
		return db, nil
	}
}

func (a *App) usePostgres(db *sql.DB) {
	a.Messages = postgres.NewMessageStore(db, a.Log)
	a.Users = postgres.NewUserStore(db, a.Log)
}

func newModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	char, err := config.CharacterRune()
	if err != nil {
		return nil, err
	}
	dictionary, err := moderation.NewLoader(nil).LoadAll("censored")
	if err != nil {
		return nil, fmt.Errorf("moderation dictionaries: %w", err)
	}
	log.Info("Moderation enabled", "words", len(dictionary.Words), "languages", dictionary.Languages)
	return moderation.NewModerator(dictionary.Words, char, log)
}

// Run starts the workers and serves gRPC and HTTP until ctx is done or a
// server fails.
func (a *App) Run(ctx context.Context) error {
	grpcAddress := fmt.Sprintf("%s:%d", a.Config.Host, a.Config.Port)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.Config.Host, a.Config.HTTPPort),
		Handler:           a.HTTP,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 3)
	go a.Supervisor.Run(ctx)
	go func() {
		a.Log.Info("Starting gRPC server", "address", grpcAddress)
		if err := a.GRPC.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		a.Log.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	if a.Config.DebugPort > 0 {
		go func() {
			if err := a.Debug.Run(ctx, a.Config.DebugPort); err != nil {
				errChan <- fmt.Errorf("debug server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.Log.Info("Shutting down gracefully...")
	case runErr = <-errChan:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := a.WS.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("Websockets still open at shutdown", "error", err)
	}
	// open Connect streams never drain on their own
	stopped := make(chan struct{})
	go func() {
		a.GRPC.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		a.GRPC.Stop()
	}
	a.Supervisor.Stop()
	return runErr
}

// Close releases the store in reverse opening order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
