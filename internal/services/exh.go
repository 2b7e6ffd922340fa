package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"animify-backend/internal/imaging"
)

// Video task states reported by exh.ai.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// ExhService talks to the exh.ai REST API. Every request carries the server-side
// bearer token; clients never see it.
type ExhService struct {
	baseURL    string
	token      string
	httpClient *http.Client
	rateChan   chan struct{} // Token bucket
}

func NewExhService(baseURL, token string, timeout time.Duration, concurrentReqs int) *ExhService {
	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &ExhService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		rateChan:   rateChan,
	}
}

type ChatHistoryEntry struct {
	Message string `json:"message"`
	Sender  string `json:"sender"` // "user" | "bot"
}

type ChatCompletionRequest struct {
	Name        string             `json:"name"`
	Context     string             `json:"context"`
	UserName    string             `json:"user_name"`
	History     []ChatHistoryEntry `json:"history"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type ImageGenerationRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

type ImageTransformRequest struct {
	Image          string   `json:"image"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Strength       *float64 `json:"strength,omitempty"`
}

type FaceSwapRequest struct {
	SourceImage string `json:"source_image"`
	TargetImage string `json:"target_image"`
}

type AnimateRequest struct {
	Image    string `json:"image"`
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration,omitempty"`
}

type StoryRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
	Scenes int    `json:"scenes,omitempty"`
}

// ImageResult is a generated image. Base64 is bare (no data URL prefix);
// URL is set when the provider hosts the file instead.
type ImageResult struct {
	Base64   string `json:"image,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"image_url,omitempty"`
}

type VideoTask struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (t *VideoTask) Done() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}

// acquireRate blocks until a rate slot is available
func (s *ExhService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for exh.ai rate slot")
	}
}

func (s *ExhService) releaseRate() {
	s.rateChan <- struct{}{}
}

// GetChatResponse returns the persona's reply to the last history entry.
func (s *ExhService) GetChatResponse(ctx context.Context, req ChatCompletionRequest) (string, error) {
	var resp struct {
		Response string `json:"response"`
	}
	if err := s.do(ctx, http.MethodPost, "/chatbot/v1/get_response", req, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Response), nil
}

func (s *ExhService) GenerateImage(ctx context.Context, req ImageGenerationRequest) (*ImageResult, error) {
	return s.image(ctx, "/image/v1/generate", req)
}

func (s *ExhService) TransformImage(ctx context.Context, req ImageTransformRequest) (*ImageResult, error) {
	req.Image = imaging.StripDataURLPrefix(req.Image)
	return s.image(ctx, "/image/v1/transform", req)
}

func (s *ExhService) SwapFace(ctx context.Context, req FaceSwapRequest) (*ImageResult, error) {
	req.SourceImage = imaging.StripDataURLPrefix(req.SourceImage)
	req.TargetImage = imaging.StripDataURLPrefix(req.TargetImage)
	return s.image(ctx, "/faceswap/v1/swap", req)
}

// Animate submits an image-to-video task and returns its id.
func (s *ExhService) Animate(ctx context.Context, req AnimateRequest) (string, error) {
	req.Image = imaging.StripDataURLPrefix(req.Image)
	return s.submitTask(ctx, "/video/v1/animate", req)
}

// CreateStory submits an animated story task and returns its id.
func (s *ExhService) CreateStory(ctx context.Context, req StoryRequest) (string, error) {
	req.Image = imaging.StripDataURLPrefix(req.Image)
	return s.submitTask(ctx, "/video/v1/story", req)
}

func (s *ExhService) GetVideoTask(ctx context.Context, taskID string) (*VideoTask, error) {
	var task VideoTask
	if err := s.do(ctx, http.MethodGet, "/video/v1/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, err
	}
	if task.TaskID == "" {
		task.TaskID = taskID
	}
	return &task, nil
}

func (s *ExhService) image(ctx context.Context, path string, payload interface{}) (*ImageResult, error) {
	var res ImageResult
	if err := s.do(ctx, http.MethodPost, path, payload, &res); err != nil {
		return nil, err
	}

	if strings.HasPrefix(res.Base64, "data:") {
		data, mimeType, err := imaging.ParseDataURL(res.Base64)
		if err != nil {
			return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "malformed image in response"}
		}
		res.Base64 = imaging.EncodeBase64(data)
		if res.MimeType == "" {
			res.MimeType = mimeType
		}
	}

	if res.Base64 == "" && res.URL == "" {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "response contained no image"}
	}

	if res.Base64 != "" && res.MimeType == "" {
		if _, mimeType, err := imaging.DecodeImage(res.Base64); err == nil {
			res.MimeType = mimeType
		} else {
			res.MimeType = "image/png"
		}
	}

	return &res, nil
}

func (s *ExhService) submitTask(ctx context.Context, path string, payload interface{}) (string, error) {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := s.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", &UpstreamError{Status: http.StatusBadGateway, Message: "response contained no task id"}
	}
	return resp.TaskID, nil
}

func (s *ExhService) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if err := s.acquireRate(ctx); err != nil {
		return err
	}
	defer s.releaseRate()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode >= 400 {
		return &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(resp.StatusCode, respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &UpstreamError{Status: http.StatusBadGateway, Message: fmt.Sprintf("parse response: %v", err)}
	}
	return nil
}

// upstreamMessage pulls a human readable message out of an exh.ai error body.
func upstreamMessage(status int, body []byte) string {
	var payload struct {
		Error   interface{} `json:"error"`
		Detail  interface{} `json:"detail"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, v := range []interface{}{payload.Error, payload.Detail, payload.Message} {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case map[string]interface{}:
				if msg, ok := val["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}
