package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MediaType string

const (
	MediaTypeImage         MediaType = "image"
	MediaTypeVideo         MediaType = "video"
	MediaTypeAnimatedStory MediaType = "animated_story"
)

func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeImage, MediaTypeVideo, MediaTypeAnimatedStory:
		return true
	}
	return false
}

// Operations. The generated ones double as job types and queue suffixes.
const (
	OpUpload    = "upload"
	OpImport    = "import"
	OpGenerate  = "generate"
	OpTransform = "transform"
	OpAnimate   = "animate"
	OpFaceSwap  = "faceswap"
	OpStory     = "story"
)

type MediaItem struct {
	ID         uuid.UUID       `json:"id"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	Type       MediaType       `json:"type"`
	Operation  string          `json:"operation"`
	Base64     *string         `json:"base64,omitempty"`
	MimeType   *string         `json:"mime_type,omitempty"`
	URL        *string         `json:"url,omitempty"`
	VideoURL   *string         `json:"video_url,omitempty"`
	FilePath   *string         `json:"-"`
	Loading    bool            `json:"loading"`
	Error      *string         `json:"error,omitempty"`
	ParentID   *uuid.UUID      `json:"parent_id,omitempty"`
	Prompt     string          `json:"prompt"`
	ParamsJSON json.RawMessage `json:"params"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Failed reports whether the item finished with an error and can be retried.
func (m *MediaItem) Failed() bool {
	return !m.Loading && m.Error != nil && *m.Error != ""
}

// HasImage reports whether the item carries image data usable as a generation source.
func (m *MediaItem) HasImage() bool {
	if m.Type != MediaTypeImage || m.Loading {
		return false
	}
	return (m.Base64 != nil && *m.Base64 != "") || (m.URL != nil && *m.URL != "")
}

// MediaResult is what a finished generation writes back onto its item.
type MediaResult struct {
	Base64   *string
	MimeType *string
	URL      *string
	VideoURL *string
}

type ImportMediaRequest struct {
	URL     string `json:"url"`
	DataURL string `json:"data_url"`
}

type GenerateImageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Style          string `json:"style,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

type TransformRequest struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Style          string   `json:"style,omitempty"`
	Strength       *float64 `json:"strength,omitempty"`
}

type AnimateRequest struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration,omitempty"`
}

type StoryRequest struct {
	Prompt string `json:"prompt"`
	Scenes int    `json:"scenes,omitempty"`
}

// FaceSwapRequest takes the face from the item in the URL and puts it into the target scene.
type FaceSwapRequest struct {
	TargetID  *uuid.UUID `json:"target_id,omitempty"`
	TargetURL string     `json:"target_url,omitempty"`
}

type SuggestPromptResponse struct {
	Prompt string `json:"prompt"`
}

type MediaListResponse struct {
	Items  []*MediaItem `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
