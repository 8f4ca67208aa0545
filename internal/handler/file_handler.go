package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/auth"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/service"
)

const (
	// uploadFormField is the multipart field that carries the file.
	uploadFormField = "file"

	// multipartOverhead is allowed on top of MaxUploadSize for boundaries
	// and part headers.
	multipartOverhead = 1 << 20

	// multipartMemory is how much of an upload is buffered in memory
	// before spilling to a temporary file.
	multipartMemory = 8 << 20
)

// FileHandler handles the file endpoints. Every route requires authentication.
type FileHandler struct {
	fileService   *service.FileService
	maxUploadSize int64
	logger        zerolog.Logger
}

// FileHandlerConfig contains configuration for the file handler.
type FileHandlerConfig struct {
	FileService   *service.FileService
	MaxUploadSize int64
	Logger        zerolog.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(cfg FileHandlerConfig) *FileHandler {
	return &FileHandler{
		fileService:   cfg.FileService,
		maxUploadSize: cfg.MaxUploadSize,
		logger:        cfg.Logger.With().Str("handler", "file").Logger(),
	}
}

// RegisterRoutes registers file routes.
func (h *FileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/upload", h.handleUpload)
	r.Delete("/{id}", h.handleDelete)
	r.Get("/{id}/download", h.handleDownload)
	r.Get("/{id}/preview", h.handlePreview)
}

// =============================================================================
// Handlers
// =============================================================================

func (h *FileHandler) handleList(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	out, err := h.fileService.List(r.Context(), owner)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": statusSuccess,
		"data": map[string]any{
			"files":           out.Files,
			"uploadRemaining": out.UploadRemaining,
		},
	})
}

func (h *FileHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, logger, service.ErrFileTooLarge)
			return
		}
		writeError(w, logger, service.ErrNoFile)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		writeError(w, logger, service.ErrNoFile)
		return
	}
	defer file.Close()

	out, err := h.fileService.Upload(r.Context(), owner, service.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  statusSuccess,
		"message": "File uploaded successfully",
		"data": map[string]any{
			"file":        out.File,
			"uploadCount": out.UploadCount,
		},
	})
}

func (h *FileHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	fileID, ok := h.fileID(w, r)
	if !ok {
		return
	}

	if err := h.fileService.Delete(r.Context(), owner, fileID); err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  statusSuccess,
		"message": "File deleted successfully",
	})
}

func (h *FileHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	fileID, ok := h.fileID(w, r)
	if !ok {
		return
	}

	out, err := h.fileService.DownloadURL(r.Context(), owner, fileID)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": statusSuccess,
		"data": map[string]string{
			"url":      out.URL,
			"filename": out.Filename,
		},
	})
}

func (h *FileHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	fileID, ok := h.fileID(w, r)
	if !ok {
		return
	}

	out, err := h.fileService.PreviewURL(r.Context(), owner, fileID)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": statusSuccess,
		"data": map[string]string{
			"url":      out.URL,
			"mimeType": out.MimeType,
		},
	})
}

// =============================================================================
// Helpers
// =============================================================================

// owner reads the identity attached by the auth middleware.
func (h *FileHandler) owner(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	identity, err := auth.IdentityFromContext(r.Context())
	if err != nil {
		writeError(w, h.logger, service.ErrUnauthorized)
		return nil, false
	}
	return identity.User, true
}

// fileID parses the {id} URL parameter. Malformed IDs are reported as missing files.
func (h *FileHandler) fileID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, service.ErrFileNotFound)
		return uuid.Nil, false
	}
	return id, true
}
