package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is one chat turn. Messages are never stored on the server; the client
// sends the history it wants the persona to see with every request.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	Image      *string   `json:"image,omitempty"`
	ImageURL   *string   `json:"image_url,omitempty"`
	VideoURL   *string   `json:"video_url,omitempty"`
	Prompt     *string   `json:"prompt,omitempty"`
	ImageError *string   `json:"image_error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Text    string    `json:"text"`
	History []Message `json:"history"`
}

// ChatResponse carries the bot's reply messages for one turn.
type ChatResponse struct {
	Messages []Message `json:"messages"`
}
