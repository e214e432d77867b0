package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/auth"
	"gwi.com/wellness-chat/internal/core"
	"gwi.com/wellness-chat/internal/store"
)

// maxBodyBytes bounds request bodies; attachments are sent inline.
const maxBodyBytes = 10 << 20

type contextKey string

const (
	userIDKey    contextKey = "userID"
	workspaceKey contextKey = "workspace"
)

type APIHandler struct {
	chatService *core.ChatService
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{chatService: cs, logger: logger}
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if _, err := h.chatService.GetUser(r.Context(), userID); err != nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WorkspaceMiddleware loads the signed-in user's workspace. It must run after
// JWTAuthMiddleware.
func (h *APIHandler) WorkspaceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFrom(r.Context())
		ws, err := h.chatService.Workspace(r.Context(), userID)
		if err != nil {
			h.logger.Error("Error loading workspace", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "Conversation is temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		ctx := context.WithValue(r.Context(), workspaceKey, ws)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) workspace(r *http.Request) *core.Workspace {
	ws, _ := r.Context().Value(workspaceKey).(*core.Workspace)
	return ws
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// Accounts

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.chatService.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if errors.Is(err, store.ErrEmailTaken) {
		http.Error(w, "An account with this email already exists.", http.StatusConflict)
		return
	}
	if errors.Is(err, store.ErrPasswordTooLong) {
		http.Error(w, "Password is too long", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("Error creating user", zap.Error(err))
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.chatService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "Invalid email or password.", http.StatusUnauthorized)
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

// DemoLoginHandler signs in to the shared demo account without credentials.
func (h *APIHandler) DemoLoginHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.chatService.SeedDemoUser(r.Context())
	if err != nil {
		h.logger.Error("Error preparing demo user", zap.Error(err))
		http.Error(w, "Demo mode is unavailable", http.StatusInternalServerError)
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

func (h *APIHandler) respondWithToken(w http.ResponseWriter, status int, user *store.User) {
	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		h.logger.Error("Error generating JWT", zap.String("user_id", user.ID), zap.Error(err))
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, AuthResponse{Token: token, User: user})
}

type OptionsResponse struct {
	Roles []string     `json:"roles"`
	Tones []store.Tone `json:"tones"`
}

func (h *APIHandler) RolesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OptionsResponse{Roles: core.Roles, Tones: store.Tones})
}

// Conversation

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workspace(r).Snapshot())
}

type DraftRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) SaveDraftHandler(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.workspace(r).SetDraft(r.Context(), req.Text); err != nil {
		h.logger.Warn("Error saving draft", zap.String("user_id", userIDFrom(r.Context())), zap.Error(err))
		http.Error(w, "Failed to save draft", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type SettingsRequest struct {
	Tone     *store.Tone `json:"tone,omitempty"`
	StepMode *bool       `json:"step_mode,omitempty"`
}

func (h *APIHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws := h.workspace(r)

	if req.Tone != nil {
		if err := ws.SetTone(r.Context(), *req.Tone); err != nil {
			h.settingsError(w, r, err)
			return
		}
	}
	if req.StepMode != nil {
		if err := ws.SetStepMode(r.Context(), *req.StepMode); err != nil {
			h.settingsError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ws.Snapshot().Preferences)
}

func (h *APIHandler) settingsError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrInvalidTone) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Warn("Error saving preferences", zap.String("user_id", userIDFrom(r.Context())), zap.Error(err))
	http.Error(w, "Failed to save settings", http.StatusInternalServerError)
}

func (h *APIHandler) AttachImageHandler(w http.ResponseWriter, r *http.Request) {
	var img store.Image
	if !decodeBody(w, r, &img) {
		return
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		http.Error(w, "Attachment must be an image", http.StatusBadRequest)
		return
	}

	err := h.workspace(r).AttachImage(&img)
	switch {
	case errors.Is(err, core.ErrGuidanceInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *APIHandler) ClearAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	h.workspace(r).ClearAttachment()
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply, err := h.workspace(r).Send(r.Context(), req.Text)
	if err != nil {
		h.conversationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type SelectRoleRequest struct {
	Role string `json:"role"`
}

func (h *APIHandler) SelectRoleHandler(w http.ResponseWriter, r *http.Request) {
	var req SelectRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply, err := h.workspace(r).SelectRole(r.Context(), req.Role)
	if err != nil {
		h.conversationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *APIHandler) conversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrGuidanceInFlight), errors.Is(err, core.ErrNoPendingFeeling):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrEmptyMessage):
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
	default:
		h.logger.Error("Error handling message", zap.Error(err))
		http.Error(w, "Failed to post message", http.StatusInternalServerError)
	}
}

// Sessions

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workspace(r).Sessions.ListSessions())
}

// NewSessionHandler archives the active conversation. 204 means there was
// nothing to archive.
func (h *APIHandler) NewSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, err := h.workspace(r).Sessions.StartNewSession(r.Context())
	if errors.Is(err, core.ErrGuidanceInFlight) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error("Error archiving session", zap.String("user_id", userIDFrom(r.Context())), zap.Error(err))
		http.Error(w, "Failed to archive session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *APIHandler) LoadSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.workspace(r).Sessions.LoadSession(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, core.ErrGuidanceInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		h.logger.Error("Error loading session", zap.String("session_id", sessionID), zap.Error(err))
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, messages)
	}
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	err := h.workspace(r).Sessions.DeleteSession(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case err != nil:
		h.logger.Error("Error deleting session", zap.String("session_id", sessionID), zap.Error(err))
		http.Error(w, "Failed to delete session", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
