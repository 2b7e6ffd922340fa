package models

// Direct proxy payloads. Images are accepted as bare base64 or data URLs.

type ProxyTransformRequest struct {
	Image          string   `json:"image"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Strength       *float64 `json:"strength,omitempty"`
}

type ProxyFaceSwapRequest struct {
	SourceImage string `json:"source_image"`
	TargetImage string `json:"target_image"`
}

type ProxyAnimateRequest struct {
	Image    string `json:"image"`
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration,omitempty"`
}

// ProxyImageResponse carries the generated image as a data URL, or the hosted URL.
type ProxyImageResponse struct {
	Image    string `json:"image,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type ProxyTaskResponse struct {
	TaskID string `json:"task_id"`
}

type ProxyTaskStatus struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}
