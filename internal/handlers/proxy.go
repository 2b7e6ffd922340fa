package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"animify-backend/internal/imaging"
	"animify-backend/internal/models"
	"animify-backend/internal/services"
)

type exhClient interface {
	GenerateImage(ctx context.Context, req services.ImageGenerationRequest) (*services.ImageResult, error)
	TransformImage(ctx context.Context, req services.ImageTransformRequest) (*services.ImageResult, error)
	SwapFace(ctx context.Context, req services.FaceSwapRequest) (*services.ImageResult, error)
	Animate(ctx context.Context, req services.AnimateRequest) (string, error)
	GetVideoTask(ctx context.Context, taskID string) (*services.VideoTask, error)
}

// ProxyHandler forwards stateless requests to exh.ai with the server-side token.
// Nothing is persisted.
type ProxyHandler struct {
	exh exhClient
}

func NewProxyHandler(exh exhClient) *ProxyHandler {
	return &ProxyHandler{exh: exh}
}

func (h *ProxyHandler) Image(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := map[string]string{}
	requireText(fields, "prompt", req.Prompt)
	services.ValidateImageSide(fields, "width", req.Width)
	services.ValidateImageSide(fields, "height", req.Height)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	img, err := h.exh.GenerateImage(r.Context(), services.ImageGenerationRequest{
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
	})
	h.writeImage(w, r, img, err)
}

func (h *ProxyHandler) Transform(w http.ResponseWriter, r *http.Request) {
	var req models.ProxyTransformRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := map[string]string{}
	requireImage(fields, "image", req.Image)
	requireText(fields, "prompt", req.Prompt)
	if req.Strength != nil && (*req.Strength <= 0 || *req.Strength > 1) {
		fields["strength"] = "Must be greater than 0 and at most 1"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	img, err := h.exh.TransformImage(r.Context(), services.ImageTransformRequest{
		Image:          req.Image,
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: req.NegativePrompt,
		Strength:       req.Strength,
	})
	h.writeImage(w, r, img, err)
}

func (h *ProxyHandler) FaceSwap(w http.ResponseWriter, r *http.Request) {
	var req models.ProxyFaceSwapRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := map[string]string{}
	requireImage(fields, "source_image", req.SourceImage)
	requireImage(fields, "target_image", req.TargetImage)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	img, err := h.exh.SwapFace(r.Context(), services.FaceSwapRequest{
		SourceImage: req.SourceImage,
		TargetImage: req.TargetImage,
	})
	h.writeImage(w, r, img, err)
}

func (h *ProxyHandler) Animate(w http.ResponseWriter, r *http.Request) {
	var req models.ProxyAnimateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := map[string]string{}
	requireImage(fields, "image", req.Image)
	requireText(fields, "prompt", req.Prompt)
	if req.Duration < 0 || req.Duration > 10 {
		fields["duration"] = "Must be between 1 and 10 seconds"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	taskID, err := h.exh.Animate(r.Context(), services.AnimateRequest{
		Image:    req.Image,
		Prompt:   strings.TrimSpace(req.Prompt),
		Duration: req.Duration,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ProxyTaskResponse{TaskID: taskID})
}

func (h *ProxyHandler) AnimateStatus(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "task_id"))
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Task ID is required", r))
		return
	}

	task, err := h.exh.GetVideoTask(r.Context(), taskID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ProxyTaskStatus{
		TaskID:   task.TaskID,
		Status:   task.Status,
		VideoURL: task.VideoURL,
		Error:    task.Error,
	})
}

func (h *ProxyHandler) writeImage(w http.ResponseWriter, r *http.Request, img *services.ImageResult, err error) {
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var resp models.ProxyImageResponse
	if img.Base64 != "" {
		resp.Image = "data:" + img.MimeType + ";base64," + img.Base64
	}
	resp.ImageURL = img.URL
	writeJSON(w, http.StatusOK, resp)
}

func requireText(fields map[string]string, name, value string) {
	if strings.TrimSpace(value) == "" {
		fields[name] = "This field is required"
	}
}

func requireImage(fields map[string]string, name, value string) {
	if strings.TrimSpace(value) == "" {
		fields[name] = "This field is required"
		return
	}
	if _, _, err := imaging.DecodeImage(value); err != nil {
		fields[name] = "Must be a base64 encoded image or data URL"
	}
}
