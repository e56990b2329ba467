// Package api puts a thin stdlib net/http front end on top of
// internal/toolapi. It owns routing, JSON decoding, auth, and the
// envelope-to-HTTP-status mapping; every operation's actual behavior
// lives in toolapi, not here, so a second transport (a CLI, an MCP
// server) can wrap the same Service without duplicating any of it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/skillsmith/skillsmith/internal/security"
	"github.com/skillsmith/skillsmith/internal/toolapi"
)

// Server is the HTTP front end for the tool surface.
type Server struct {
	port       int
	svc        *toolapi.Service
	logger     *slog.Logger
	httpServer *http.Server
	jwtSecret  []byte
}

// NewServer creates an HTTP API server bound to svc.
func NewServer(port int, svc *toolapi.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	jwtSecret := security.GetJWTSecret()
	if jwtSecret == nil {
		logger.Warn("SKILLSMITH_JWT_SECRET not set — running in dev mode (unauthenticated API access)")
	}
	return &Server{port: port, svc: svc, logger: logger.With("component", "api"), jwtSecret: jwtSecret}
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully with a 5s drain window.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/token", s.handleAuthToken)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/v1/search", handle(s.svc.Search))
	mux.HandleFunc("POST /api/v1/skills/get", handle(s.svc.GetSkill))
	mux.HandleFunc("POST /api/v1/codebase/analyze", handle(s.svc.AnalyzeCodebase))
	mux.HandleFunc("POST /api/v1/skills/recommend", handle(s.svc.RecommendSkills))
	mux.HandleFunc("POST /api/v1/skills/install", handle(s.svc.InstallSkill))
	mux.HandleFunc("POST /api/v1/skills/uninstall", handle(s.svc.UninstallSkill))
	mux.HandleFunc("POST /api/v1/skills/installed", handle(s.svc.ListInstalled))
	mux.HandleFunc("POST /api/v1/skills/conflicts", handle(s.svc.CheckConflicts))
	mux.HandleFunc("POST /api/v1/skills/activation", handle(s.svc.AuditActivation))
	mux.HandleFunc("POST /api/v1/budget/estimate", handle(s.svc.EstimateBudget))
	mux.HandleFunc("POST /api/v1/priorities/get", handle(s.svc.GetPriorities))
	mux.HandleFunc("POST /api/v1/priorities/set", handle(s.svc.SetPriority))
	mux.HandleFunc("POST /api/v1/sync/refresh", handle(s.svc.RefreshIndex))
	mux.HandleFunc("POST /api/v1/sync/status", handle(s.svc.GetSyncStatus))
	mux.HandleFunc("POST /api/v1/sync/sources", handle(s.svc.GetSourceHealth))

	// Admin-only: these mutate shared sync/blocklist state rather than a
	// single caller's own installs, so they require RoleAdmin.
	adminOnly := security.RequireRole(security.RoleAdmin)
	mux.Handle("POST /api/v1/sync/force", adminOnly(handle(s.svc.ForceFullSync)))
	mux.Handle("POST /api/v1/blocklist", adminOnly(handle(s.svc.UpdateBlocklist)))

	authed := s.jwtAuthWrapper(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.corsMiddleware(s.loggingMiddleware(authed)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handle adapts one toolapi.Service method into an http.HandlerFunc: it
// decodes the JSON body into REQ, stamps CallerKey from the
// authenticated caller (never trusting a client-supplied one), and
// writes the resulting envelope with a status derived from its error
// code.
func handle[REQ any](op func(ctx context.Context, req REQ) toolapi.Envelope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req REQ
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeEnvelope(w, toolapi.Envelope{
					Success: false,
					Error:   &toolapi.ErrorInfo{Code: toolapi.CodeInvalidInput, Message: "invalid JSON request body"},
				})
				return
			}
		}
		setCallerKey(&req, callerKeyFor(r))
		writeEnvelope(w, op(r.Context(), req))
	}
}

// callerKeyFor derives the rate-limit/audit key from the authenticated
// claims, falling back to the remote address in dev mode.
func callerKeyFor(r *http.Request) string {
	if claims, err := security.GetClaims(r); err == nil {
		return claims.CallerID
	}
	return r.RemoteAddr
}

// setCallerKey stamps the CallerKey field every toolapi request struct
// carries. Request structs are plain data with no shared interface, so
// this reaches the field by name via reflection rather than forcing
// each struct to implement a setter purely for this one field.
func setCallerKey(req any, key string) {
	v := reflect.ValueOf(req)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return
	}
	f := v.Elem().FieldByName("CallerKey")
	if f.IsValid() && f.CanSet() && f.Kind() == reflect.String {
		f.SetString(key)
	}
}

func writeEnvelope(w http.ResponseWriter, env toolapi.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(env))
	if err := json.NewEncoder(w).Encode(env); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func statusFor(env toolapi.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	if env.Error == nil {
		return http.StatusInternalServerError
	}
	switch env.Error.Code {
	case toolapi.CodeInvalidInput:
		return http.StatusBadRequest
	case toolapi.CodeUnauthorized:
		return http.StatusUnauthorized
	case toolapi.CodeRateLimited:
		return http.StatusTooManyRequests
	case toolapi.CodeSkillNotFound, toolapi.CodeSourceNotFound:
		return http.StatusNotFound
	case toolapi.CodeSkillAlreadyInstalled, toolapi.CodeSkillNotInstalled,
		toolapi.CodeConflictBlocking, toolapi.CodeBudgetExceeded, toolapi.CodePriorityLocked,
		toolapi.CodeSyncAlreadyRunning, toolapi.CodeConfirmRequired, toolapi.CodeInvalidFrequency:
		return http.StatusConflict
	case toolapi.CodeBlocklisted, toolapi.CodeSecurityScanFailed:
		return http.StatusForbidden
	case toolapi.CodeInsufficientData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// loggingMiddleware logs each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// corsMiddleware adds permissive CORS headers for integrations running
// from a browser context (e.g. a companion dashboard).
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jwtAuthWrapper applies JWT authentication to every /api/ route except
// the token endpoint itself.
func (s *Server) jwtAuthWrapper(next http.Handler) http.Handler {
	authed := security.AuthMiddleware(s.jwtSecret)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/token" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

// handleHealthz answers the gateway's liveness probe: unauthenticated, no
// request body, 200 once ListenAndServe is accepting connections.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleAuthToken issues a bearer token for a caller_id/role pair. In a
// production deployment this would sit behind owner/API-key validation;
// here it accepts any caller_id and a role from security.ValidRoles,
// matching the dev-mode posture SKILLSMITH_JWT_SECRET governs elsewhere.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerID string `json:"caller_id"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.CallerID == "" || req.Role == "" {
		http.Error(w, `{"error":"caller_id and role required"}`, http.StatusBadRequest)
		return
	}
	validRole := false
	for _, role := range security.ValidRoles {
		if role == req.Role {
			validRole = true
			break
		}
	}
	if !validRole {
		http.Error(w, `{"error":"invalid role"}`, http.StatusBadRequest)
		return
	}

	secret := s.jwtSecret
	if secret == nil {
		secret = []byte("skillsmith-dev-secret")
	}
	token, err := security.GenerateToken(req.CallerID, req.Role, secret, 24*time.Hour)
	if err != nil {
		s.logger.Error("failed to generate token", "error", err)
		http.Error(w, `{"error":"token generation failed"}`, http.StatusInternalServerError)
		return
	}

	writeEnvelope(w, toolapi.Envelope{Success: true, Data: map[string]any{
		"token": token, "expires_in": 86400, "token_type": "Bearer",
	}})
}
