package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"animify-backend/internal/imaging"
	"animify-backend/internal/models"
)

// Images stored inline on an item are re-encoded above this size.
const inlineImageLimit = 4 * 1024 * 1024

type mediaRepository interface {
	Create(ctx context.Context, m *models.MediaItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, mediaType string, limit, offset int) ([]*models.MediaItem, int, error)
	MarkLoading(ctx context.Context, id uuid.UUID) (bool, error)
	SetError(ctx context.Context, id uuid.UUID, errMsg string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

type imageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

type promptSuggester interface {
	SuggestPrompt(ctx context.Context, data []byte, mimeType string) (string, error)
}

// MediaService owns the media item lifecycle: uploads and imports are stored
// immediately, generations are created loading and handed to the worker pool.
type MediaService struct {
	repo           mediaRepository
	queue          jobEnqueuer
	fetcher        imageFetcher
	suggester      promptSuggester
	defaults       *models.TransformDefaults
	storagePath    string
	maxUploadBytes int64
}

func NewMediaService(
	repo mediaRepository,
	queue jobEnqueuer,
	fetcher imageFetcher,
	suggester promptSuggester,
	defaults *models.TransformDefaults,
	storagePath string,
	maxUploadBytes int64,
) *MediaService {
	if defaults == nil {
		defaults = &models.TransformDefaults{}
	}
	return &MediaService{
		repo:           repo,
		queue:          queue,
		fetcher:        fetcher,
		suggester:      suggester,
		defaults:       defaults,
		storagePath:    storagePath,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *MediaService) Defaults() *models.TransformDefaults {
	return s.defaults
}

func (s *MediaService) List(ctx context.Context, ownerID uuid.UUID, mediaType string, limit, offset int) ([]*models.MediaItem, int, error) {
	if mediaType != "" && !models.MediaType(mediaType).Valid() {
		return nil, 0, &ValidationError{Fields: map[string]string{"type": "Must be image, video or animated_story"}}
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.repo.ListByOwner(ctx, ownerID, mediaType, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list media: %w", err)
	}
	return items, total, nil
}

func (s *MediaService) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.MediaItem, error) {
	item, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Message: "Media item not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load media item: %w", err)
	}
	if item.OwnerID != ownerID {
		return nil, &ForbiddenError{Message: "You do not have access to this media item"}
	}
	return item, nil
}

func (s *MediaService) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	item, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete media item: %w", err)
	}
	if item.FilePath != nil && *item.FilePath != "" {
		if err := os.Remove(*item.FilePath); err != nil && !os.IsNotExist(err) {
			log.Printf("failed to remove file %s for media %s: %v", *item.FilePath, id, err)
		}
	}
	return nil
}

// Upload stores an uploaded image on disk under the owner's directory and
// creates a finished image item for it.
func (s *MediaService) Upload(ctx context.Context, ownerID uuid.UUID, filename string, data []byte) (*models.MediaItem, error) {
	if s.maxUploadBytes > 0 && int64(len(data)) > s.maxUploadBytes {
		return nil, &ValidationError{Fields: map[string]string{
			"file": fmt.Sprintf("File must be %d MB or smaller", s.maxUploadBytes/(1024*1024)),
		}}
	}
	mimeType, err := imaging.SniffImage(data)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"file": "File must be an image"}}
	}

	id := uuid.New()
	dir := filepath.Join(s.storagePath, ownerID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, id.String()+imaging.ExtensionFor(mimeType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	params, _ := json.Marshal(map[string]interface{}{
		"filename": filepath.Base(filename),
		"size":     len(data),
	})

	inline, inlineMime := imaging.Shrink(data, mimeType, inlineImageLimit)
	b64 := imaging.EncodeBase64(inline)
	item := &models.MediaItem{
		ID:         id,
		OwnerID:    ownerID,
		Type:       models.MediaTypeImage,
		Operation:  models.OpUpload,
		Base64:     &b64,
		MimeType:   &inlineMime,
		FilePath:   &path,
		ParamsJSON: params,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("create media item: %w", err)
	}
	return item, nil
}

// Import creates an image item from a remote URL or an inline data URL.
func (s *MediaService) Import(ctx context.Context, ownerID uuid.UUID, req models.ImportMediaRequest) (*models.MediaItem, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.DataURL = strings.TrimSpace(req.DataURL)

	if (req.URL == "") == (req.DataURL == "") {
		return nil, &ValidationError{Fields: map[string]string{"url": "Provide exactly one of url or data_url"}}
	}

	var (
		data     []byte
		mimeType string
		err      error
		source   *string
	)
	if req.DataURL != "" {
		data, mimeType, err = imaging.DecodeImage(req.DataURL)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data_url": "Must be a base64 image"}}
		}
	} else {
		data, mimeType, err = s.fetcher.Fetch(ctx, req.URL)
		if err != nil {
			return nil, fetchError(err)
		}
		source = &req.URL
	}

	inline, inlineMime := imaging.Shrink(data, mimeType, inlineImageLimit)
	b64 := imaging.EncodeBase64(inline)

	params := json.RawMessage(`{}`)
	if source != nil {
		params, _ = json.Marshal(map[string]string{"source_url": *source})
	}

	item := &models.MediaItem{
		OwnerID:    ownerID,
		Type:       models.MediaTypeImage,
		Operation:  models.OpImport,
		Base64:     &b64,
		MimeType:   &inlineMime,
		URL:        source,
		ParamsJSON: params,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create media item: %w", err)
	}
	return item, nil
}

func fetchError(err error) error {
	switch {
	case errors.Is(err, imaging.ErrUnsafeURL):
		return &ValidationError{Fields: map[string]string{"url": "URL is not allowed"}}
	case errors.Is(err, imaging.ErrNotImage), errors.Is(err, imaging.ErrEmptyImage):
		return &ValidationError{Fields: map[string]string{"url": "URL does not point to an image"}}
	case errors.Is(err, imaging.ErrTooLarge):
		return &ValidationError{Fields: map[string]string{"url": "Remote image is too large"}}
	}
	return &UpstreamError{Message: err.Error()}
}

// Generate queues a text-to-image generation.
func (s *MediaService) Generate(ctx context.Context, ownerID uuid.UUID, req models.GenerateImageRequest) (*models.MediaItem, *models.Job, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	fields := map[string]string{}
	if req.Prompt == "" {
		fields["prompt"] = "Prompt is required"
	}
	ValidateImageSide(fields, "width", req.Width)
	ValidateImageSide(fields, "height", req.Height)
	prompt, ok := s.styledPrompt(req.Prompt, req.Style)
	if !ok {
		fields["style"] = "Unknown style"
	}
	if len(fields) > 0 {
		return nil, nil, &ValidationError{Fields: fields}
	}

	item := &models.MediaItem{
		OwnerID:   ownerID,
		Type:      models.MediaTypeImage,
		Operation: models.OpGenerate,
		Prompt:    prompt,
	}
	return s.createAndEnqueue(ctx, item, req)
}

func (s *MediaService) Transform(ctx context.Context, ownerID, sourceID uuid.UUID, req models.TransformRequest) (*models.MediaItem, *models.Job, error) {
	source, err := s.loadSource(ctx, ownerID, sourceID)
	if err != nil {
		return nil, nil, err
	}

	d := s.defaults.Transform
	req.Prompt = firstNonEmpty(req.Prompt, d.Prompt)
	req.NegativePrompt = firstNonEmpty(req.NegativePrompt, d.NegativePrompt)
	if req.Strength == nil && d.Strength > 0 {
		strength := d.Strength
		req.Strength = &strength
	}

	fields := map[string]string{}
	if req.Prompt == "" {
		fields["prompt"] = "Prompt is required"
	}
	if req.Strength != nil && (*req.Strength <= 0 || *req.Strength > 1) {
		fields["strength"] = "Must be greater than 0 and at most 1"
	}
	prompt, ok := s.styledPrompt(req.Prompt, req.Style)
	if !ok {
		fields["style"] = "Unknown style"
	}
	if len(fields) > 0 {
		return nil, nil, &ValidationError{Fields: fields}
	}

	item := &models.MediaItem{
		OwnerID:   ownerID,
		Type:      models.MediaTypeImage,
		Operation: models.OpTransform,
		ParentID:  &source.ID,
		Prompt:    prompt,
	}
	return s.createAndEnqueue(ctx, item, req)
}

func (s *MediaService) Animate(ctx context.Context, ownerID, sourceID uuid.UUID, req models.AnimateRequest) (*models.MediaItem, *models.Job, error) {
	source, err := s.loadSource(ctx, ownerID, sourceID)
	if err != nil {
		return nil, nil, err
	}

	req.Prompt = firstNonEmpty(req.Prompt, s.defaults.Animate.Prompt)
	if req.Duration == 0 {
		req.Duration = s.defaults.Animate.Duration
	}

	fields := map[string]string{}
	if req.Prompt == "" {
		fields["prompt"] = "Prompt is required"
	}
	if req.Duration < 1 || req.Duration > 10 {
		fields["duration"] = "Must be between 1 and 10 seconds"
	}
	if len(fields) > 0 {
		return nil, nil, &ValidationError{Fields: fields}
	}

	item := &models.MediaItem{
		OwnerID:   ownerID,
		Type:      models.MediaTypeVideo,
		Operation: models.OpAnimate,
		ParentID:  &source.ID,
		Prompt:    req.Prompt,
	}
	return s.createAndEnqueue(ctx, item, req)
}

func (s *MediaService) Story(ctx context.Context, ownerID, sourceID uuid.UUID, req models.StoryRequest) (*models.MediaItem, *models.Job, error) {
	source, err := s.loadSource(ctx, ownerID, sourceID)
	if err != nil {
		return nil, nil, err
	}

	req.Prompt = firstNonEmpty(req.Prompt, s.defaults.Story.Prompt)
	if req.Scenes == 0 {
		req.Scenes = s.defaults.Story.Scenes
	}

	fields := map[string]string{}
	if req.Prompt == "" {
		fields["prompt"] = "Prompt is required"
	}
	if req.Scenes < 1 || req.Scenes > 8 {
		fields["scenes"] = "Must be between 1 and 8"
	}
	if len(fields) > 0 {
		return nil, nil, &ValidationError{Fields: fields}
	}

	item := &models.MediaItem{
		OwnerID:   ownerID,
		Type:      models.MediaTypeAnimatedStory,
		Operation: models.OpStory,
		ParentID:  &source.ID,
		Prompt:    req.Prompt,
	}
	return s.createAndEnqueue(ctx, item, req)
}

// FaceSwap puts the face of the source item into the target scene. A target URL
// is imported as its own item first.
func (s *MediaService) FaceSwap(ctx context.Context, ownerID, sourceID uuid.UUID, req models.FaceSwapRequest) (*models.MediaItem, *models.Job, error) {
	req.TargetURL = strings.TrimSpace(req.TargetURL)
	if (req.TargetID == nil) == (req.TargetURL == "") {
		return nil, nil, &ValidationError{Fields: map[string]string{"target_id": "Provide exactly one of target_id or target_url"}}
	}

	source, err := s.loadSource(ctx, ownerID, sourceID)
	if err != nil {
		return nil, nil, err
	}

	if req.TargetURL != "" {
		target, err := s.Import(ctx, ownerID, models.ImportMediaRequest{URL: req.TargetURL})
		if err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				return nil, nil, &ValidationError{Fields: map[string]string{"target_url": vErr.Fields["url"]}}
			}
			return nil, nil, err
		}
		req.TargetID = &target.ID
	} else if _, err := s.loadSource(ctx, ownerID, *req.TargetID); err != nil {
		return nil, nil, err
	}

	item := &models.MediaItem{
		OwnerID:   ownerID,
		Type:      models.MediaTypeImage,
		Operation: models.OpFaceSwap,
		ParentID:  &source.ID,
	}
	return s.createAndEnqueue(ctx, item, models.FaceSwapRequest{TargetID: req.TargetID})
}

// Retry re-runs a failed generation in place with its stored parameters.
func (s *MediaService) Retry(ctx context.Context, ownerID, id uuid.UUID) (*models.MediaItem, *models.Job, error) {
	item, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	if !item.Failed() {
		return nil, nil, &ConflictError{Message: "Only failed items can be retried"}
	}
	if !isJobType(item.Operation) {
		return nil, nil, &ConflictError{Message: "This item was not generated and cannot be retried"}
	}

	claimed, err := s.repo.MarkLoading(ctx, item.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("mark loading: %w", err)
	}
	if !claimed {
		return nil, nil, &ConflictError{Message: "This item is already being retried"}
	}
	item.Loading = true
	item.Error = nil

	job, err := s.enqueue(ctx, item)
	if err != nil {
		return nil, nil, err
	}
	return item, job, nil
}

// FileBytes returns the raw image behind an item.
func (s *MediaService) FileBytes(ctx context.Context, ownerID, id uuid.UUID) ([]byte, string, error) {
	item, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, "", err
	}

	if item.FilePath != nil && *item.FilePath != "" {
		data, err := os.ReadFile(*item.FilePath)
		if err == nil {
			mimeType, sniffErr := imaging.SniffImage(data)
			if sniffErr == nil {
				return data, mimeType, nil
			}
		} else if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("read file: %w", err)
		}
	}

	if item.Base64 == nil || *item.Base64 == "" {
		return nil, "", &NotFoundError{Message: "Media item has no image data"}
	}
	data, mimeType, err := imaging.DecodeImage(*item.Base64)
	if err != nil {
		return nil, "", fmt.Errorf("decode stored image: %w", err)
	}
	return data, mimeType, nil
}

// SuggestPrompt asks the vision model for a transform prompt that suits the image.
func (s *MediaService) SuggestPrompt(ctx context.Context, ownerID, id uuid.UUID) (string, error) {
	if s.suggester == nil {
		return "", &FeatureDisabledError{Feature: "Prompt suggestions"}
	}

	item, err := s.loadSource(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	data, mimeType, err := s.SourceImage(ctx, item)
	if err != nil {
		return "", err
	}
	return s.suggester.SuggestPrompt(ctx, data, mimeType)
}

// SourceImage returns the image bytes of a finished image item, downloading
// them when the item only carries a URL.
func (s *MediaService) SourceImage(ctx context.Context, item *models.MediaItem) ([]byte, string, error) {
	if item.Base64 != nil && *item.Base64 != "" {
		data, mimeType, err := imaging.DecodeImage(*item.Base64)
		if err != nil {
			return nil, "", fmt.Errorf("decode stored image: %w", err)
		}
		return data, mimeType, nil
	}
	if item.URL != nil && *item.URL != "" && s.fetcher != nil {
		return s.fetcher.Fetch(ctx, *item.URL)
	}
	return nil, "", &ValidationError{Fields: map[string]string{"id": "Media item has no image"}}
}

// loadSource returns an owned, finished image item usable as generation input.
func (s *MediaService) loadSource(ctx context.Context, ownerID, id uuid.UUID) (*models.MediaItem, error) {
	item, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if item.Loading {
		return nil, &ConflictError{Message: "Media item is still being generated"}
	}
	if !item.HasImage() {
		return nil, &ValidationError{Fields: map[string]string{"id": "Media item is not an image"}}
	}
	return item, nil
}

func (s *MediaService) createAndEnqueue(ctx context.Context, item *models.MediaItem, params interface{}) (*models.MediaItem, *models.Job, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal params: %w", err)
	}
	item.ParamsJSON = paramsJSON
	item.Loading = true

	if err := s.repo.Create(ctx, item); err != nil {
		return nil, nil, fmt.Errorf("create media item: %w", err)
	}

	job, err := s.enqueue(ctx, item)
	if err != nil {
		return nil, nil, err
	}
	return item, job, nil
}

func (s *MediaService) enqueue(ctx context.Context, item *models.MediaItem) (*models.Job, error) {
	job := &models.Job{
		ID:      uuid.New(),
		OwnerID: item.OwnerID,
		MediaID: item.ID,
		Type:    item.Operation,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if setErr := s.repo.SetError(ctx, item.ID, "Failed to queue generation"); setErr != nil {
			log.Printf("failed to mark media %s as failed: %v", item.ID, setErr)
		}
		return nil, fmt.Errorf("queue %s job: %w", item.Operation, err)
	}
	return job, nil
}

func (s *MediaService) styledPrompt(prompt, style string) (string, bool) {
	style = strings.TrimSpace(style)
	if style == "" {
		return prompt, true
	}
	preset, ok := s.defaults.Style(style)
	if !ok {
		return prompt, false
	}
	if prompt == "" {
		return preset.Prompt, true
	}
	return prompt + ", " + preset.Prompt, true
}

// ValidateImageSide records a field error when a requested side is set and out of bounds.
func ValidateImageSide(fields map[string]string, name string, v int) {
	if v != 0 && (v < minImageSide || v > maxImageSide) {
		fields[name] = fmt.Sprintf("Must be between %d and %d", minImageSide, maxImageSide)
	}
}

func isJobType(op string) bool {
	for _, t := range models.JobTypes {
		if t == op {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
