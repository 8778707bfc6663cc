package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"kairon-backend/internal/middleware"
	"kairon-backend/internal/services"
)

type IngestHandler struct {
	ingest         *services.IngestionService
	maxUploadBytes int64
}

func NewIngestHandler(ingest *services.IngestionService, maxUploadBytes int64) *IngestHandler {
	return &IngestHandler{ingest: ingest, maxUploadBytes: maxUploadBytes}
}

func (h *IngestHandler) SupportedFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats": []map[string]string{
			{"extension": ".pdf", "mime_type": "application/pdf", "description": "PDF Document"},
			{"extension": ".docx", "mime_type": "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "description": "Word Document"},
			{"extension": ".txt", "mime_type": "text/plain", "description": "Plain Text"},
			{"extension": ".md", "mime_type": "text/markdown", "description": "Markdown"},
		},
		"max_upload_bytes": h.maxUploadBytes,
		"max_characters":   services.MaxIngestedRunes,
	})
}

func (h *IngestHandler) Text(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	res, err := h.ingest.IngestText(r.Context(), middleware.GetUserID(r.Context()), req.Name, req.Text)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// File takes a multipart upload with a "file" part and an optional "name".
func (h *IngestHandler) File(w http.ResponseWriter, r *http.Request) {
	data, filename, _, ok := readUpload(w, r, h.maxUploadBytes)
	if !ok {
		return
	}

	res, err := h.ingest.IngestFile(r.Context(), middleware.GetUserID(r.Context()), r.FormValue("name"), filename, data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *IngestHandler) YouTube(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		URL      string `json:"url"`
		Model    string `json:"model"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	opts := services.GenerateOptions{Model: req.Model, Language: req.Language}
	res, err := h.ingest.IngestYouTube(r.Context(), middleware.GetUserID(r.Context()), req.Name, req.URL, opts)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// readUpload reads the "file" part of a multipart request, capped at limit
// bytes, and reports its name and content type. On failure the response is
// already written.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, string, string, bool) {
	if r.ContentLength > limit+1024*1024 {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", tooLargeMessage(limit), r))
		return nil, "", "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1024*1024)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", tooLargeMessage(limit), r))
			return nil, "", "", false
		}
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "No file provided",
			map[string]string{"file": "Please choose a file to upload."}, r))
		return nil, "", "", false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Could not read the upload", r))
		return nil, "", "", false
	}
	if int64(len(data)) > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", tooLargeMessage(limit), r))
		return nil, "", "", false
	}
	return data, header.Filename, uploadContentType(header.Header.Get("Content-Type"), header.Filename, data), true
}

// uploadContentType prefers the declared type, then the extension, then
// sniffing the first bytes.
func uploadContentType(declared, filename string, data []byte) string {
	if ct, _, err := mime.ParseMediaType(declared); err == nil && ct != "application/octet-stream" {
		return ct
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			return parsed
		}
	}
	ct, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return ct
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("File size exceeds the %d MB limit", limit/(1024*1024))
}
