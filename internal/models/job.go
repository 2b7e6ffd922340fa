package models

import (
	"time"

	"github.com/google/uuid"
)

type Job struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	MediaID    uuid.UUID `json:"media_id"`
	Type       string    `json:"type"` // "generate" | "transform" | "animate" | "faceswap" | "story"
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobTypes lists every generation job type; each has its own Redis list.
var JobTypes = []string{OpGenerate, OpTransform, OpAnimate, OpFaceSwap, OpStory}

func QueueName(jobType string) string {
	return "queue:" + jobType
}

func JobQueues() []string {
	queues := make([]string, len(JobTypes))
	for i, t := range JobTypes {
		queues[i] = QueueName(t)
	}
	return queues
}

// WebSocket message types
const (
	WSMediaUpdated = "media_updated"
	WSMediaFailed  = "media_failed"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type MediaFailedEvent struct {
	MediaID      uuid.UUID `json:"media_id"`
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

type SessionResponse struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// JobAccepted is returned with 202 when a generation has been queued.
type JobAccepted struct {
	MediaID uuid.UUID  `json:"media_id"`
	JobID   uuid.UUID  `json:"job_id"`
	Media   *MediaItem `json:"media"`
}
