package internal

import (
	"context"
	"dm-relay/contract"
	"dm-relay/infrastructure/storage"
	"dm-relay/observability"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
)

// DebugServer exposes runtime state on a private port.
// db is nil when the store is not badger.
type DebugServer struct {
	log       *slog.Logger
	monitor   *observability.MonitoringManager
	directory contract.IDirectory
	presence  contract.IPresence
	db        *badger.DB
}

func NewDebugServer(log *slog.Logger, monitor *observability.MonitoringManager, directory contract.IDirectory,
	presence contract.IPresence, db *badger.DB) *DebugServer {
	return &DebugServer{log: log, monitor: monitor, directory: directory, presence: presence, db: db}
}

func (s *DebugServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/debug/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.monitor.GetLatest())
	})
	r.Get("/debug/presence", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"online":   s.directory.OnlineUsers(),
			"presence": s.presence.Snapshot(),
		})
	})
	r.Get("/debug/inspect", s.inspect)
	return r
}

// inspect handles GET /debug/inspect?prefix=msg:&limit=50
func (s *DebugServer) inspect(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "inspection needs the badger store"})
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	records, err := storage.Inspect(s.db, r.URL.Query().Get("prefix"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Run serves until ctx is done.
func (s *DebugServer) Run(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.log.Info("Debug server available", "url", fmt.Sprintf("http://localhost:%d/debug/stats", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
