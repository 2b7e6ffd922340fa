package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"animify-backend/internal/middleware"
	"animify-backend/internal/models"
)

type mediaService interface {
	List(ctx context.Context, ownerID uuid.UUID, mediaType string, limit, offset int) ([]*models.MediaItem, int, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*models.MediaItem, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, data []byte) (*models.MediaItem, error)
	Import(ctx context.Context, ownerID uuid.UUID, req models.ImportMediaRequest) (*models.MediaItem, error)
	FileBytes(ctx context.Context, ownerID, id uuid.UUID) ([]byte, string, error)
	Generate(ctx context.Context, ownerID uuid.UUID, req models.GenerateImageRequest) (*models.MediaItem, *models.Job, error)
	Transform(ctx context.Context, ownerID, sourceID uuid.UUID, req models.TransformRequest) (*models.MediaItem, *models.Job, error)
	Animate(ctx context.Context, ownerID, sourceID uuid.UUID, req models.AnimateRequest) (*models.MediaItem, *models.Job, error)
	Story(ctx context.Context, ownerID, sourceID uuid.UUID, req models.StoryRequest) (*models.MediaItem, *models.Job, error)
	FaceSwap(ctx context.Context, ownerID, sourceID uuid.UUID, req models.FaceSwapRequest) (*models.MediaItem, *models.Job, error)
	Retry(ctx context.Context, ownerID, id uuid.UUID) (*models.MediaItem, *models.Job, error)
	SuggestPrompt(ctx context.Context, ownerID, id uuid.UUID) (string, error)
	Defaults() *models.TransformDefaults
}

type MediaHandler struct {
	media          mediaService
	maxUploadBytes int64
}

func NewMediaHandler(media mediaService, maxUploadBytes int64) *MediaHandler {
	return &MediaHandler{media: media, maxUploadBytes: maxUploadBytes}
}

func (h *MediaHandler) TransformDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.media.Defaults())
}

func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := h.media.List(r.Context(), ownerID, r.URL.Query().Get("type"), limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.MediaListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	item, err := h.media.Get(r.Context(), middleware.GetOwnerID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.media.Delete(r.Context(), middleware.GetOwnerID(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("PAYLOAD_TOO_LARGE", "File is too large", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Expected multipart form data", r))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"file": "File is required"}, r))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Could not read file", r))
		return
	}

	item, err := h.media.Upload(r.Context(), middleware.GetOwnerID(r.Context()), header.Filename, data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *MediaHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req models.ImportMediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.media.Import(r.Context(), middleware.GetOwnerID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *MediaHandler) File(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	data, mimeType, err := h.media.FileBytes(r.Context(), middleware.GetOwnerID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *MediaHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, job, err := h.media.Generate(r.Context(), middleware.GetOwnerID(r.Context()), req)
	h.accepted(w, r, item, job, err)
}

func (h *MediaHandler) Transform(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req models.TransformRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, job, err := h.media.Transform(r.Context(), middleware.GetOwnerID(r.Context()), id, req)
	h.accepted(w, r, item, job, err)
}

func (h *MediaHandler) Animate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req models.AnimateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, job, err := h.media.Animate(r.Context(), middleware.GetOwnerID(r.Context()), id, req)
	h.accepted(w, r, item, job, err)
}

func (h *MediaHandler) Story(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req models.StoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, job, err := h.media.Story(r.Context(), middleware.GetOwnerID(r.Context()), id, req)
	h.accepted(w, r, item, job, err)
}

func (h *MediaHandler) FaceSwap(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req models.FaceSwapRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, job, err := h.media.FaceSwap(r.Context(), middleware.GetOwnerID(r.Context()), id, req)
	h.accepted(w, r, item, job, err)
}

func (h *MediaHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	item, job, err := h.media.Retry(r.Context(), middleware.GetOwnerID(r.Context()), id)
	h.accepted(w, r, item, job, err)
}

func (h *MediaHandler) SuggestPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	prompt, err := h.media.SuggestPrompt(r.Context(), middleware.GetOwnerID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SuggestPromptResponse{Prompt: prompt})
}

func (h *MediaHandler) accepted(w http.ResponseWriter, r *http.Request, item *models.MediaItem, job *models.Job, err error) {
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.JobAccepted{
		MediaID: item.ID,
		JobID:   job.ID,
		Media:   item,
	})
}
