package services

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"animify-backend/internal/models"
)

type chatGenerator interface {
	GetChatResponse(ctx context.Context, req ChatCompletionRequest) (string, error)
	GenerateImage(ctx context.Context, req ImageGenerationRequest) (*ImageResult, error)
}

type chatConfigSource interface {
	Get(ctx context.Context, ownerID uuid.UUID) (*models.ChatConfig, error)
}

// ChatService runs one persona chat turn. History comes from the client on every
// request and is never stored.
type ChatService struct {
	exh     chatGenerator
	configs chatConfigSource
}

func NewChatService(exh chatGenerator, configs chatConfigSource) *ChatService {
	return &ChatService{exh: exh, configs: configs}
}

func (s *ChatService) Reply(ctx context.Context, ownerID uuid.UUID, req models.ChatRequest) (*models.ChatResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &ValidationError{Fields: map[string]string{"text": "Message text is required"}}
	}

	cfg, err := s.configs.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	history := buildChatHistory(req.History, cfg.ChatSettings.MaxHistory)
	history = append(history, ChatHistoryEntry{Message: text, Sender: models.SenderUser})

	temperature := cfg.ChatSettings.Temperature
	reply, err := s.exh.GetChatResponse(ctx, ChatCompletionRequest{
		Name:        cfg.BotProfile.Name,
		Context:     cfg.BotProfile.Description,
		UserName:    cfg.ChatSettings.UserName,
		History:     history,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, err
	}
	if reply == "" {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "empty chat reply"}
	}

	msg := models.Message{
		ID:        uuid.New(),
		Sender:    models.SenderBot,
		Text:      reply,
		Timestamp: time.Now().UTC(),
	}

	botCount := 1
	for _, m := range req.History {
		if m.Sender == models.SenderBot {
			botCount++
		}
	}

	if shouldGenerateImage(cfg.ImageSettings, text, reply, botCount) {
		prompt := buildImagePrompt(cfg, reply)
		msg.Prompt = &prompt

		img, err := s.exh.GenerateImage(ctx, ImageGenerationRequest{
			Prompt:         prompt,
			NegativePrompt: cfg.ImageSettings.NegativePrompt,
			Width:          cfg.ImageSettings.Width,
			Height:         cfg.ImageSettings.Height,
		})
		if err != nil {
			log.Printf("chat image generation failed for owner %s: %v", ownerID, err)
			errMsg := err.Error()
			msg.ImageError = &errMsg
		} else {
			if img.Base64 != "" {
				msg.Image = &img.Base64
			}
			if img.URL != "" {
				msg.ImageURL = &img.URL
			}
		}
	}

	return &models.ChatResponse{Messages: []models.Message{msg}}, nil
}

// buildChatHistory keeps the last max messages that carry text.
func buildChatHistory(messages []models.Message, max int) []ChatHistoryEntry {
	entries := make([]ChatHistoryEntry, 0, len(messages)+1)
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		sender := models.SenderUser
		if m.Sender == models.SenderBot {
			sender = models.SenderBot
		}
		entries = append(entries, ChatHistoryEntry{Message: text, Sender: sender})
	}

	if max > 0 && len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	return entries
}

func shouldGenerateImage(settings models.ImageSettings, userText, reply string, botCount int) bool {
	if !settings.Enabled {
		return false
	}

	userWords := words(userText)
	replyWords := words(reply)
	for _, w := range settings.TriggerWords {
		trigger := words(w)
		if len(trigger) == 0 {
			continue
		}
		if containsPhrase(userWords, trigger) || containsPhrase(replyWords, trigger) {
			return true
		}
	}

	return settings.EveryNMessages > 0 && botCount%settings.EveryNMessages == 0
}

// words lowercases s and splits it on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsPhrase reports whether phrase appears in text as consecutive whole words.
func containsPhrase(text, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(text); i++ {
		match := true
		for j, w := range phrase {
			if text[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func buildImagePrompt(cfg *models.ChatConfig, reply string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{cfg.BotProfile.Appearance, cfg.ImageSettings.Style, reply} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
