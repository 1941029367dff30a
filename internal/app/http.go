package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"configdeck/api/internal/document"
	"configdeck/api/internal/editor"
	"configdeck/api/internal/export"
	"configdeck/api/internal/gitrepo"
	"configdeck/api/internal/jsondoc"
	"configdeck/api/internal/session"
	"configdeck/api/internal/store"
)

const healthMessage = "JSON Editor Server is running. Use /api/data to fetch or save data."

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	maxUploadBytes int64
	logger         logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string, maxUploadBytes int64, logger logrus.FieldLogger) *HTTPServer {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, maxUploadBytes: maxUploadBytes, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/", s.handleRoot)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Get("/api/data", s.handleGetData)
	r.Post("/api/data", s.handlePostData)
	r.Post("/api/reset", s.handleReset)
	r.Post("/api/convert-download", s.handleConvert)

	r.Get("/api/history", s.handleHistory)
	r.Get("/api/history/{hash}", s.handleSnapshot)

	r.Route("/api/editor", func(r chi.Router) {
		r.Get("/sections", s.handleSections)
		r.Get("/application", s.handleGetApplication)
		r.Put("/application", s.handlePutApplication)

		r.Post("/workspaces", s.handleCreateWorkspace)
		r.Route("/workspaces/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkspace)
			r.Delete("/", s.handleDeleteWorkspace)
			r.Post("/navigate", s.handleNavigate)
			r.Put("/cells", s.handleEditCell)
			r.Post("/rows", s.handleAddRow)
			r.Delete("/rows/{row}", s.handleDeleteRow)
			r.Post("/save", s.handleSave)
			r.Post("/reset", s.handleResetPending)
			r.Post("/cancel", s.handleCancel)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, healthMessage)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleGetData(w http.ResponseWriter, r *http.Request) {
	data, revision, err := s.service.Document()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", formatETag(revision))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handlePostData(w http.ResponseWriter, r *http.Request) {
	ifRevision, ok := parseIfMatch(r.Header.Get("If-Match"))
	if !ok {
		writeError(w, http.StatusPreconditionFailed, "REVISION_MISMATCH", "If-Match does not name a revision", nil)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "could not read request body", nil)
		return
	}
	revision, err := s.service.ReplaceDocument(r.Context(), raw, ifRevision)
	if revision > 0 {
		w.Header().Set("ETag", formatETag(revision))
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if id := r.URL.Query().Get("workspace"); id != "" {
		if err := s.service.ReloadWorkspace(r.Context(), id); err != nil && !errors.Is(err, session.ErrNotFound) {
			s.logger.WithError(err).WithField("workspace", id).Warn("failed to reload workspace")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": messageSaved, "revision": revision})
}

func (s *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	revision, err := s.service.ResetDocument(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", formatETag(revision))
	writeJSON(w, http.StatusOK, map[string]any{"message": messageReset, "revision": revision})
}

func (s *HTTPServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Uploaded file is too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "NO_FILE", "No file uploaded", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	header := uploadedFile(r.MultipartForm)
	if header == nil {
		writeError(w, http.StatusBadRequest, "NO_FILE", "No file uploaded", nil)
		return
	}
	file, err := header.Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "NO_FILE", "Uploaded file could not be read", nil)
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "NO_FILE", "Uploaded file could not be read", nil)
		return
	}

	result, err := s.service.Convert(header.Filename, payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeAttachment(w, result)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	items, err := s.service.History(limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, info, err := s.service.Snapshot(chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("X-Snapshot-Hash", info.Hash)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sections": s.service.Sections()})
}

func (s *HTTPServer) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"settings": s.service.ApplicationSettings()})
}

func (s *HTTPServer) handlePutApplication(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "could not read request body", nil)
		return
	}
	parsed, err := jsondoc.Parse(raw)
	edits, ok := parsed.(*jsondoc.Object)
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "body must be a JSON object of settings", nil)
		return
	}
	settings, revision, err := s.service.SaveApplication(r.Context(), edits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", formatETag(revision))
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings, "revision": revision})
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.CreateWorkspace(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Workspace(r.Context(), chi.URLParam(r, "id"))
	s.respondView(w, r, view, err)
}

func (s *HTTPServer) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteWorkspace(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	view, err := s.service.Navigate(r.Context(), chi.URLParam(r, "id"), req)
	s.respondView(w, r, view, err)
}

type editCellRequest struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (s *HTTPServer) handleEditCell(w http.ResponseWriter, r *http.Request) {
	var req editCellRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	view, err := s.service.EditCell(r.Context(), chi.URLParam(r, "id"), req.Row, req.Field, jsondoc.Normalize(req.Value))
	s.respondView(w, r, view, err)
}

func (s *HTTPServer) handleAddRow(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.AddRow(r.Context(), chi.URLParam(r, "id"))
	s.respondView(w, r, view, err)
}

func (s *HTTPServer) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "row must be an integer", nil)
		return
	}
	view, err := s.service.DeleteRow(r.Context(), chi.URLParam(r, "id"), row)
	s.respondView(w, r, view, err)
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	view, revision, err := s.service.SaveWorkspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("ETag", formatETag(revision))
	writeJSON(w, http.StatusOK, map[string]any{"message": messageSaved, "revision": revision, "workspace": view})
}

func (s *HTTPServer) handleResetPending(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ResetPending(r.Context(), chi.URLParam(r, "id"))
	s.respondView(w, r, view, err)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.CancelEdits(r.Context(), chi.URLParam(r, "id"))
	s.respondView(w, r, view, err)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportWorkspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeAttachment(w, &export.Result{Data: data, Filename: "data.json", MimeType: "application/json"})
}

func (s *HTTPServer) respondView(w http.ResponseWriter, r *http.Request, view editor.View, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// fail maps err to a response and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": requestIDFrom(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, If-Match, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "ETag, Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

func writeAttachment(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// uploadedFile picks the "file" field, else the first file of the form.
func uploadedFile(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	if files := form.File["file"]; len(files) > 0 {
		return files[0]
	}
	for _, files := range form.File {
		if len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func formatETag(revision int64) string {
	return `"` + strconv.FormatInt(revision, 10) + `"`
}

// parseIfMatch returns the revision named by an If-Match header; zero means
// no precondition.
func parseIfMatch(header string) (int64, bool) {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return 0, true
	}
	header = strings.TrimPrefix(header, "W/")
	revision, err := strconv.ParseInt(strings.Trim(header, `"`), 10, 64)
	if err != nil || revision <= 0 {
		return 0, false
	}
	return revision, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, export.ErrInvalidJSON):
		return http.StatusBadRequest, "INVALID_JSON", "Uploaded file is not valid JSON", nil
	case errors.Is(err, store.ErrRevisionMismatch):
		return http.StatusPreconditionFailed, "REVISION_MISMATCH", "Document was changed by someone else", nil
	case errors.Is(err, document.ErrParentMissing):
		return http.StatusConflict, "PARENT_MISSING", "The record these rows belong to no longer exists", nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "WORKSPACE_NOT_FOUND", "Workspace not found or expired", nil
	case errors.Is(err, gitrepo.ErrSnapshotNotFound):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "Snapshot not found", nil
	case errors.Is(err, editor.ErrRowNotFound):
		return http.StatusNotFound, "ROW_NOT_FOUND", err.Error(), nil
	case errors.Is(err, editor.ErrUnknownSection):
		return http.StatusBadRequest, "UNKNOWN_SECTION", err.Error(), nil
	case errors.Is(err, editor.ErrNotExpandable), errors.Is(err, editor.ErrReadOnlyField),
		errors.Is(err, editor.ErrNoChanges), errors.Is(err, editor.ErrNoCollection):
		return http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
