package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/marketops/mpimport/internal/domain"
	"github.com/marketops/mpimport/internal/excel"
	"github.com/marketops/mpimport/internal/repository"
)

// maxUploadBytes caps uploaded workbook size (32 MiB).
const maxUploadBytes = 32 << 20

type Handler struct {
	service *Service
	records repository.ImportRecordRepository
	logs    repository.ImportLogRepository
}

func NewHTTPHandler(service *Service, records repository.ImportRecordRepository, logs repository.ImportLogRepository) http.Handler {
	return &Handler{service: service, records: records, logs: logs}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/start"):
		h.handleStart(w, r)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/excel"):
		h.handleExcelPreview(w, r)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
		h.handleCancel(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/logs"):
		h.handleListLogs(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/progress"):
		h.handleProgress(w, r)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/records"):
		h.handleListRecords(w, r)
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req domain.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	resp, err := h.service.Start(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleProgress resolves /api/import/{session_id}/progress. An unknown
// session is a 404, which polling clients treat as "session gone".
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSegmentBefore(r.URL.Path, "/progress")
	if !ok {
		http.Error(w, "missing session identifier", http.StatusBadRequest)
		return
	}
	progress, found := h.service.Progress(sessionID)
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSegmentBefore(r.URL.Path, "/cancel")
	if !ok {
		http.Error(w, "missing session identifier", http.StatusBadRequest)
		return
	}
	if err := h.service.Cancel(sessionID); err != nil {
		if errors.Is(err, ErrNotCancellable) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "cancelling"})
}

// handleExcelPreview accepts a multipart upload with a workbook under
// "file" and expected column definitions as JSON under "columns", and
// returns the mapped preview.
func (h *Handler) handleExcelPreview(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid multipart form: %v", err), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	var defs []excel.ColumnDef
	if raw := strings.TrimSpace(r.FormValue("columns")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &defs); err != nil {
			http.Error(w, fmt.Sprintf("invalid columns: %v", err), http.StatusBadRequest)
			return
		}
	}
	if len(defs) == 0 {
		http.Error(w, "columns field is required", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("read upload: %v", err), http.StatusBadRequest)
		return
	}
	if len(payload) > maxUploadBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	grid, err := excel.ParseWorkbook(header.Filename, payload)
	if err != nil {
		if errors.Is(err, excel.ErrUnsupportedFormat) {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		http.Error(w, fmt.Sprintf("parse workbook: %v", err), http.StatusBadRequest)
		return
	}
	data, err := excel.FromRaw(grid, defs, header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleListRecords serves /api/import/{session_id}/records, the rows a
// finished session landed in the store.
func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSegmentBefore(r.URL.Path, "/records")
	if !ok {
		http.Error(w, "missing session identifier", http.StatusBadRequest)
		return
	}
	limit, offset, err := parsePaging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.records.ListBySession(r.Context(), sessionID, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list records: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := strings.TrimSpace(query.Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	limit, offset, err := parsePaging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.logs.List(r.Context(), sessionID, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list logs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parsePaging(r *http.Request) (limit, offset int, err error) {
	query := r.URL.Query()
	limit = 200
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 0 {
			return 0, 0, errors.New("offset must be zero or positive")
		}
		offset = parsed
	}
	return limit, offset, nil
}

// pathSegmentBefore extracts the path segment immediately preceding the
// given suffix, e.g. the session id in /api/import/{id}/progress.
func pathSegmentBefore(path, suffix string) (string, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, "/"), suffix)
	trimmed = strings.TrimSuffix(trimmed, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 || idx == len(trimmed)-1 {
		return "", false
	}
	return trimmed[idx+1:], true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
