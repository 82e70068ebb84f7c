package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"alqefari/api/internal/auth"
	"alqefari/api/internal/logging"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logrus.Entry
}

func NewHTTPServer(service *Service, corsOrigin string, log *logrus.Entry) *HTTPServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Head("/health", s.handleHealth)
		api.Get("/ready", s.handleReady)
		api.Head("/ready", s.handleReady)
		api.Post("/auth/signin", s.handleSignIn)
		api.Post("/auth/signup", s.handleSignUp)

		api.Group(func(authed chi.Router) {
			authed.Use(s.requireIdentity)

			authed.Post("/profiles", s.handleCreateProfile)
			authed.Get("/profiles/{id}", s.handleGetProfile)
			authed.Patch("/profiles/{id}", s.handleUpdateProfile)
			authed.Delete("/profiles/{id}", s.handleDeleteProfile)
			authed.Post("/profiles/{id}/cascade-delete", s.handleCascadeDelete)
			authed.Get("/profiles/{id}/chain", s.handleChain)
			authed.Get("/profiles/{id}/audit", s.handleAuditLog)
			authed.Get("/profiles/{id}/suggestions", s.handleListSuggestions)

			authed.Post("/search/name-chain", s.handleSearch)
			authed.Get("/search/names", s.handleSuggestNames)

			authed.Post("/audit/{logId}/undo", s.handleUndo)
			authed.Post("/audit/{logId}/undo-batch", s.handleUndoBatch)

			authed.Post("/marriages", s.handleCreateMarriage)
			authed.Patch("/marriages/{id}", s.handleUpdateMarriage)
			authed.Delete("/marriages/{id}", s.handleDeleteMarriage)

			authed.Post("/suggestions", s.handleSubmitSuggestion)
			authed.Post("/suggestions/{id}/approve", s.handleApproveSuggestion)
			authed.Post("/suggestions/{id}/reject", s.handleRejectSuggestion)

			authed.Get("/permissions/{targetId}", s.handleCheckPermission)
			authed.Post("/permissions/batch", s.handleCheckPermissions)

			authed.Post("/admin/moderators", s.handleAssignModerator)
			authed.Delete("/admin/moderators/{id}", s.handleRevokeModerator)
			authed.Post("/admin/suggestion-blocks", s.handleBlockSuggestions)
			authed.Delete("/admin/suggestion-blocks/{profileId}", s.handleUnblockSuggestions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		entry := s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		r = r.WithContext(logging.WithEntry(r.Context(), entry))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		entry.WithFields(logrus.Fields{
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

type identityKey struct{}

// Identity is the caller named by the bearer token.
type Identity struct {
	ProfileID string
	Name      string
	Role      string
}

func (s *HTTPServer) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "Authentication required", nil)
			return
		}
		claims, err := s.service.ParseToken(token)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "Token expired"
			}
			writeError(w, http.StatusUnauthorized, CodeUnauthenticated, message, nil)
			return
		}
		id := Identity{ProfileID: claims.Subject, Name: claims.Name, Role: claims.Role}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		ctx = logging.WithEntry(ctx, logging.FromContext(ctx).WithField("actor_id", id.ProfileID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorID(r *http.Request) string {
	id, _ := r.Context().Value(identityKey{}).(Identity)
	return id.ProfileID
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

// decodeBody decodes a JSON body. An empty body leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error(), nil)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidInput("%s must be an integer", key)
	}
	return n, nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		ProfileID string `json:"profileId"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.ProfileID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}
