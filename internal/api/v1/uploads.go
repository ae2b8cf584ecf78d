package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/domain"
)

const sniffLen = 512

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	FileID string `json:"file_id"`
	URL    string `json:"url"`
}

// Uploads serves the multipart upload endpoint and the uploaded files.
// These routes stay on plain chi because the payload is not JSON.
type Uploads struct {
	files    domain.FileRepository
	maxBytes int64
}

func NewUploads(files domain.FileRepository, maxBytes int64) *Uploads {
	return &Uploads{files: files, maxBytes: maxBytes}
}

// FileURL is the public path of an uploaded file.
func FileURL(fileID string) string {
	if fileID == "" {
		return ""
	}
	return "/uploads/" + fileID
}

// ServeUpload accepts one image in the multipart field "file".
func (u *Uploads) ServeUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, u.maxBytes+sniffLen*2)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeProblem(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, u.maxBytes+1))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Could not read file")
		return
	}
	if int64(len(data)) > u.maxBytes {
		writeProblem(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data[:min(len(data), sniffLen)])
	}
	if !strings.HasPrefix(contentType, "image/") {
		writeProblem(w, http.StatusBadRequest, "Only image files are accepted")
		return
	}

	f, err := u.files.Save(r.Context(), header.Filename, contentType, data)
	if err != nil {
		log.Error().Err(err).Str("file", header.Filename).Msg("save upload")
		writeProblem(w, http.StatusInternalServerError, "Could not store file")
		return
	}

	log.Info().Str("file_id", f.ID).Int("bytes", len(data)).Str("content_type", contentType).Msg("file uploaded")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UploadResponse{FileID: f.ID, URL: FileURL(f.ID)})
}

// ServeFile returns the bytes of an uploaded file.
func (u *Uploads) ServeFile(w http.ResponseWriter, r *http.Request) {
	f, err := u.files.Get(r.Context(), chi.URLParam(r, "fileID"))
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("load upload")
		writeProblem(w, http.StatusInternalServerError, "Could not load file")
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	http.ServeContent(w, r, f.Name, f.CreatedAt, bytes.NewReader(f.Data))
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
