package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"easel/api/internal/canvas"
	"easel/api/internal/lock"
	"easel/api/internal/store"

	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", s.corsOrigin)
		header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		header.Set("Cache-Control", "no-store")
		header.Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "canvases" {
		s.handleCanvases(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCanvases(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleCreateCanvas(w, r)
	case len(rest) == 1 && r.Method == http.MethodGet:
		s.handleGetCanvas(w, r, rest[0])
	case len(rest) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteCanvas(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "state" && r.Method == http.MethodGet:
		s.handleGetState(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "transactions" && r.Method == http.MethodGet:
		s.handleGetTransactions(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "versions" && r.Method == http.MethodGet:
		s.handleListVersions(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "sync" && r.Method == http.MethodPost:
		s.handleSyncState(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "duplicate" && r.Method == http.MethodPost:
		s.handleDuplicateCanvas(w, r, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	var body CreateCanvasInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.CreateCanvas(r.Context(), body)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, canvasResponse(created))
}

func (s *HTTPServer) handleGetCanvas(w http.ResponseWriter, r *http.Request, canvasID string) {
	row, err := s.service.GetCanvas(r.Context(), canvasID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, canvasResponse(row))
}

func (s *HTTPServer) handleDeleteCanvas(w http.ResponseWriter, r *http.Request, canvasID string) {
	purge := r.URL.Query().Get("purge") == "true"
	if err := s.service.DeleteCanvas(r.Context(), canvasID, purge); err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "purged": purge})
}

func (s *HTTPServer) handleGetState(w http.ResponseWriter, r *http.Request, canvasID string) {
	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_VERSION", err.Error(), nil)
		return
	}
	state, err := s.service.GetState(r.Context(), canvasID, version)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleGetTransactions(w http.ResponseWriter, r *http.Request, canvasID string) {
	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_VERSION", err.Error(), nil)
		return
	}
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SINCE", "since must be RFC3339", nil)
			return
		}
	}
	transactions, err := s.service.GetTransactions(r.Context(), canvasID, version, since)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, canvasID string) {
	versions, err := s.service.ListVersions(r.Context(), canvasID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		out = append(out, map[string]any{
			"version":     v.Version,
			"blobKey":     v.BlobKey,
			"contentHash": v.ContentHash,
			"createdAt":   v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

func (s *HTTPServer) handleSyncState(w http.ResponseWriter, r *http.Request, canvasID string) {
	var body struct {
		Transactions []canvas.Transaction `json:"transactions"`
		Version      *int64               `json:"version"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var held *lock.Handle // HTTP callers never hold the lock already
	if err := s.service.SyncState(r.Context(), canvasID, body.Transactions, body.Version, held); err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDuplicateCanvas(w http.ResponseWriter, r *http.Request, canvasID string) {
	var body CreateCanvasInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.DuplicateCanvas(r.Context(), canvasID, body)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, canvasResponse(created))
}

func (s *HTTPServer) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func canvasResponse(row store.Canvas) map[string]any {
	return map[string]any{
		"id":             row.ID,
		"ownerId":        row.OwnerID,
		"headVersion":    row.HeadVersion,
		"legacyStateKey": row.LegacyStateKey,
		"createdAt":      row.CreatedAt,
		"updatedAt":      row.UpdatedAt,
	}
}

func versionParam(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 1 {
		return nil, fmt.Errorf("version must be a positive integer")
	}
	return &parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// An absent body leaves the target at its zero value so the
		// handler's own field validation reports what is missing.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, canvas.ErrInvalidDiff) {
		return http.StatusBadRequest, "INVALID_DIFF", err.Error(), nil
	}
	if errors.Is(err, lock.ErrTooFrequent) {
		return http.StatusTooManyRequests, "OPERATION_TOO_FREQUENT", "Canvas is being modified by another request", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
