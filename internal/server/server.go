// Package server exposes the relay's HTTP surface: auth, conversation CRUD,
// attachment uploads, and the realtime connection endpoint.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/Physix85/Venus-AI/internal/auth"
	"github.com/Physix85/Venus-AI/internal/extract"
	"github.com/Physix85/Venus-AI/internal/ratelimit"
	"github.com/Physix85/Venus-AI/internal/relay"
	"github.com/Physix85/Venus-AI/internal/storage"
	"github.com/Physix85/Venus-AI/internal/store"
	"github.com/Physix85/Venus-AI/internal/util"
	"github.com/Physix85/Venus-AI/pkg/domain"
)

const (
	defaultListLimit  = 50
	maxListLimit      = 200
	presignExpiry     = 24 * time.Hour
	minPasswordLength = 8
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store        store.Store
	Tokens       *auth.Tokens
	Orchestrator *relay.Orchestrator
	Registry     *relay.Registry
	Rooms        *relay.Rooms
	Blobs        storage.BlobStore

	SignupLimiter *ratelimit.FixedWindowLimiter
	LoginLimiter  *ratelimit.FixedWindowLimiter

	MaxUploadBytes int64
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
}

// Server exposes the relay's HTTP endpoints.
type Server struct {
	store          store.Store
	tokens         *auth.Tokens
	orchestrator   *relay.Orchestrator
	registry       *relay.Registry
	rooms          *relay.Rooms
	blobs          storage.BlobStore
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
	maxUploadBytes int64
	allowedOrigins []string
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	s := &Server{
		store:          cfg.Store,
		tokens:         cfg.Tokens,
		orchestrator:   cfg.Orchestrator,
		registry:       cfg.Registry,
		rooms:          cfg.Rooms,
		blobs:          cfg.Blobs,
		signupLimiter:  cfg.SignupLimiter,
		loginLimiter:   cfg.LoginLimiter,
		maxUploadBytes: maxUpload,
		allowedOrigins: cfg.AllowedOrigins,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)

	// conversations
	s.mux.Handle("/api/conversations", s.authenticated(s.handleConversations))
	s.mux.Handle("/api/conversations/", s.authenticated(s.handleConversationByID))

	// uploads
	s.mux.Handle("/api/uploads", s.authenticated(s.handleUpload))

	// realtime
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
	})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Status == domain.StatusDisabled {
			writeError(w, http.StatusForbidden, "account deactivated")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.userFromToken(r, token)
}

func (s *Server) userFromToken(r *http.Request, token string) (domain.User, bool) {
	userID, err := s.tokens.VerifySubject(token)
	if err != nil {
		s.audit(r, "relay.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	user, ok, err := s.store.GetUserByID(userID)
	if err != nil || !ok {
		s.audit(r, "relay.token.verify", "fail", "reason", "user_missing")
		return domain.User{}, false
	}
	return user, true
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "relay.signup", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "relay.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	exists, err := s.store.HasUserEmail(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if exists {
		s.audit(r, "relay.signup", "fail", "reason", "email_taken")
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	now := time.Now()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveUser(user); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "relay.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "relay.login", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "relay.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, ok, err := s.store.GetUserByEmail(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok || !auth.CheckPassword(req.Password, user.PasswordHash) {
		s.audit(r, "relay.login", "fail", "reason", "bad_credentials")
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if user.Status == domain.StatusDisabled {
		s.audit(r, "relay.login", "fail", "reason", "deactivated", "user_id", user.ID)
		writeError(w, http.StatusForbidden, "account deactivated")
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "relay.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// conversation handlers
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxListLimit {
			limit = n
		}
	}
	items, err := s.store.ListConversations(user.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		conv, ok, err := s.store.GetConversation(id, user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		if err := s.store.DeleteConversation(id, user.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "conversation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// upload handler
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	declared := header.Header.Get("Content-Type")
	if v := r.FormValue("mediaType"); v != "" {
		declared = v
	}
	mediaType, ok := domain.ParseMediaType(declared)
	if !ok {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported media type")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	storageName := storage.StorageName(header.Filename)
	if err := s.blobs.Put(r.Context(), storageName, bytes.NewReader(data), int64(len(data)), string(mediaType)); err != nil {
		slog.Error("attachment upload failed", "name", header.Filename, "err", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	url, err := s.blobs.PresignGet(r.Context(), storageName, presignExpiry)
	if err != nil {
		slog.Error("attachment presign failed", "name", storageName, "err", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	// Extraction is best-effort; a nil excerpt is a normal outcome.
	excerpt := extract.Excerpt(mediaType, header.Filename, data)

	s.audit(r, "relay.upload", "success",
		"user_id", user.ID, "name", header.Filename, "size", len(data))
	writeJSON(w, http.StatusCreated, domain.Attachment{
		OriginalName: header.Filename,
		StorageName:  storageName,
		MediaType:    mediaType,
		SizeBytes:    int64(len(data)),
		URL:          url,
		Excerpt:      excerpt,
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
