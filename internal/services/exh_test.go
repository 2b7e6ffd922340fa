package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func newTestExh(t *testing.T, handler http.HandlerFunc) *ExhService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewExhService(srv.URL, "test-token", 5*time.Second, 2)
}

func TestExhService_GetChatResponse(t *testing.T) {
	var got ChatCompletionRequest
	exh := newTestExh(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chatbot/v1/get_response", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"response": "  hello there  "})
	})

	reply, err := exh.GetChatResponse(context.Background(), ChatCompletionRequest{
		Name:     "Luna",
		Context:  "a friendly bot",
		UserName: "Sam",
		History:  []ChatHistoryEntry{{Message: "hi", Sender: "user"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Equal(t, "Luna", got.Name)
	require.Len(t, got.History, 1)
	assert.Equal(t, "user", got.History[0].Sender)
}

func TestExhService_TransformImage(t *testing.T) {
	t.Run("strips data url and sniffs mime", func(t *testing.T) {
		exh := newTestExh(t, func(w http.ResponseWriter, r *http.Request) {
			var req ImageTransformRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, tinyPNG, req.Image)
			json.NewEncoder(w).Encode(map[string]string{"image": tinyPNG})
		})

		res, err := exh.TransformImage(context.Background(), ImageTransformRequest{
			Image:  "data:image/png;base64," + tinyPNG,
			Prompt: "anime style",
		})
		require.NoError(t, err)
		assert.Equal(t, tinyPNG, res.Base64)
		assert.Equal(t, "image/png", res.MimeType)
	})

	t.Run("data url response", func(t *testing.T) {
		exh := newTestExh(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"image": "data:image/png;base64," + tinyPNG})
		})

		res, err := exh.TransformImage(context.Background(), ImageTransformRequest{Image: tinyPNG, Prompt: "x"})
		require.NoError(t, err)
		raw, _ := base64.StdEncoding.DecodeString(tinyPNG)
		assert.Equal(t, base64.StdEncoding.EncodeToString(raw), res.Base64)
		assert.Equal(t, "image/png", res.MimeType)
	})

	t.Run("empty response", func(t *testing.T) {
		exh := newTestExh(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})

		_, err := exh.TransformImage(context.Background(), ImageTransformRequest{Image: tinyPNG, Prompt: "x"})
		var upErr *UpstreamError
		require.True(t, errors.As(err, &upErr))
		assert.Equal(t, http.StatusBadGateway, upErr.Status)
	})
}

func TestExhService_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		retryable bool
	}{
		{"bad request with error field", http.StatusBadRequest, `{"error":"prompt is required"}`, "prompt is required", false},
		{"unprocessable with detail", http.StatusUnprocessableEntity, `{"detail":"nsfw content"}`, "nsfw content", false},
		{"nested error object", http.StatusForbidden, `{"error":{"message":"bad token"}}`, "bad token", false},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, "slow down", true},
		{"server error plain text", http.StatusInternalServerError, `boom`, "boom", true},
		{"empty body", http.StatusServiceUnavailable, ``, "Service Unavailable", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exh := newTestExh(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := exh.GenerateImage(context.Background(), ImageGenerationRequest{Prompt: "cat"})
			var upErr *UpstreamError
			require.True(t, errors.As(err, &upErr))
			assert.Equal(t, tc.status, upErr.Status)
			assert.Equal(t, tc.wantMsg, upErr.Message)
			assert.Equal(t, tc.retryable, upErr.IsRetryable())
		})
	}
}

func TestExhService_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	exh := NewExhService(srv.URL, "t", time.Second, 1)
	_, err := exh.GenerateImage(context.Background(), ImageGenerationRequest{Prompt: "cat"})

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, 0, upErr.Status)
	assert.True(t, upErr.IsRetryable())
}

func TestExhService_VideoTasks(t *testing.T) {
	exh := newTestExh(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/video/v1/animate":
			var req AnimateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 5, req.Duration)
			json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1"})
		case r.Method == http.MethodPost && r.URL.Path == "/video/v1/story":
			w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && r.URL.Path == "/video/v1/tasks/task-1":
			json.NewEncoder(w).Encode(VideoTask{Status: TaskSucceeded, VideoURL: "https://cdn/v.mp4"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	taskID, err := exh.Animate(ctx, AnimateRequest{Image: tinyPNG, Prompt: "wave", Duration: 5})
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)

	task, err := exh.GetVideoTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.TaskID)
	assert.True(t, task.Done())
	assert.Equal(t, "https://cdn/v.mp4", task.VideoURL)

	_, err = exh.CreateStory(ctx, StoryRequest{Image: tinyPNG, Prompt: "adventure"})
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusBadGateway, upErr.Status)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(&UpstreamError{Status: 502}))
	assert.False(t, IsRetryable(&UpstreamError{Status: 400}))
	assert.False(t, IsRetryable(&NotFoundError{Message: "gone"}))
	assert.False(t, IsRetryable(&ValidationError{Fields: map[string]string{"a": "b"}}))
}
