// Package rest is the HTTP surface: account endpoints, users and history
// reads, the WebSocket upgrade, health and metrics.
package rest

import (
	"dm-relay/auth"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/infrastructure/gateway"
	"dm-relay/services"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

type Handlers struct {
	log         *slog.Logger
	authService services.IAuthService
	chatService services.IChatService
	directory   contract.IDirectory
}

func NewHandlers(log *slog.Logger, authService services.IAuthService, chatService services.IChatService,
	directory contract.IDirectory) *Handlers {
	return &Handlers{log: log, authService: authService, chatService: chatService, directory: directory}
}

// Register handles POST /register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	credentials, err := h.authService.Register(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, credentials)
}

// Login handles POST /login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	credentials, err := h.authService.Login(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credentials)
}

// Users handles GET /users
func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.chatService.ListUsersWithStatus(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if users == nil {
		users = []domain.UserWithStatus{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Messages handles GET /messages/{conversationId}
func (h *Handlers) Messages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	conversationID := domain.ConversationID(chi.URLParam(r, "conversationId"))
	messages, err := h.chatService.ListMessages(r.Context(), identity.UserID, conversationID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(messages, func(m domain.Message, _ int) gateway.MessageDTO {
		return gateway.ToMessageDTO(m)
	}))
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"onlineUsers": len(h.directory.OnlineUsers()),
	})
}

// fail hides storage and internal details behind a generic message.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	status := errors.MapToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		message = "the request could not be processed, please retry"
	}
	writeJSON(w, status, map[string]string{"code": errors.Code(err), "error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
