package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const suggestPromptInstruction = `You write prompts for an image-to-image style transfer model.
Look at the photo and write one prompt (max 40 words) that would turn it into an appealing
anime-style illustration while keeping the subject recognizable. Mention the subject, pose,
clothing, setting and lighting. Return only the prompt text, without quotes or explanations.`

// PromptService proposes transform prompts with Gemini vision. It is optional:
// a nil *PromptService reports the feature as disabled.
type PromptService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

func NewPromptService(apiKey string, concurrentReqs int) (*PromptService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-3-flash-preview")
	model.SetTemperature(0.7)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(200)

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &PromptService{
		client:   client,
		model:    model,
		rateChan: rateChan,
	}, nil
}

func (s *PromptService) Close() {
	if s != nil {
		s.client.Close()
	}
}

// acquireRate blocks until a rate slot is available
func (s *PromptService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *PromptService) releaseRate() {
	s.rateChan <- struct{}{}
}

// SuggestPrompt returns a transform prompt describing the given image.
func (s *PromptService) SuggestPrompt(ctx context.Context, data []byte, mimeType string) (string, error) {
	if s == nil {
		return "", &FeatureDisabledError{Feature: "Prompt suggestions"}
	}
	if len(data) == 0 {
		return "", &ValidationError{Fields: map[string]string{"id": "Media item has no image"}}
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := s.model.GenerateContent(ctx,
		genai.ImageData(imageFormat(mimeType), data),
		genai.Text(suggestPromptInstruction),
	)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Printf("WARNING: Gemini candidate %d stopped due to %s", i, cand.FinishReason)
		}
	}

	prompt := cleanSuggestion(extractText(resp))
	if prompt == "" {
		return "", &UpstreamError{Status: 502, Message: "Gemini returned an empty suggestion"}
	}
	return prompt, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// imageFormat turns "image/png" into the "png" genai.ImageData expects.
func imageFormat(mimeType string) string {
	format := strings.TrimPrefix(strings.ToLower(mimeType), "image/")
	if format == "" || format == mimeType {
		return "jpeg"
	}
	return format
}

// cleanSuggestion strips wrapping quotes, markdown and a leading "Prompt:" label.
func cleanSuggestion(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "`")
	text = strings.TrimSpace(text)
	if idx := strings.Index(strings.ToLower(text), "prompt:"); idx == 0 {
		text = strings.TrimSpace(text[len("prompt:"):])
	}
	text = strings.Trim(text, `"'`)
	text = strings.Join(strings.Fields(text), " ")
	return text
}
