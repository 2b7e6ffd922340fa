package services

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"animify-backend/internal/models"
)

//go:embed defaults/*.json
var defaultsFS embed.FS

const (
	minImageSide = 256
	maxImageSide = 1536
	maxHistory   = 100
)

type chatConfigRepository interface {
	Get(ctx context.Context, ownerID uuid.UUID) (json.RawMessage, error)
	Upsert(ctx context.Context, ownerID uuid.UUID, config json.RawMessage) error
	Delete(ctx context.Context, ownerID uuid.UUID) error
}

// ChatConfigService resolves an owner's effective chat configuration: their stored
// override when present, otherwise the bundled default.
type ChatConfigService struct {
	repo     chatConfigRepository
	defaults models.ChatConfig
}

func NewChatConfigService(repo chatConfigRepository) (*ChatConfigService, error) {
	var defaults models.ChatConfig
	if err := loadDefaults("defaults/chat_config.json", &defaults); err != nil {
		return nil, err
	}
	return &ChatConfigService{repo: repo, defaults: defaults}, nil
}

// LoadTransformDefaults returns the bundled transform/animate/story defaults and style presets.
func LoadTransformDefaults() (*models.TransformDefaults, error) {
	var d models.TransformDefaults
	if err := loadDefaults("defaults/transform_defaults.json", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func loadDefaults(name string, v interface{}) error {
	data, err := defaultsFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Defaults returns a copy of the bundled configuration.
func (s *ChatConfigService) Defaults() *models.ChatConfig {
	cfg := s.defaults
	cfg.ImageSettings.TriggerWords = append([]string(nil), s.defaults.ImageSettings.TriggerWords...)
	return &cfg
}

func (s *ChatConfigService) Get(ctx context.Context, ownerID uuid.UUID) (*models.ChatConfig, error) {
	raw, err := s.repo.Get(ctx, ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat config: %w", err)
	}

	cfg := s.Defaults()
	if err := json.Unmarshal(raw, cfg); err != nil {
		log.Printf("invalid chat config override for owner %s: %v", ownerID, err)
		return s.Defaults(), nil
	}
	s.normalize(cfg)
	return cfg, nil
}

func (s *ChatConfigService) Update(ctx context.Context, ownerID uuid.UUID, cfg *models.ChatConfig) (*models.ChatConfig, error) {
	s.normalize(cfg)
	if fields := validateChatConfig(cfg); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal chat config: %w", err)
	}
	if err := s.repo.Upsert(ctx, ownerID, data); err != nil {
		return nil, fmt.Errorf("save chat config: %w", err)
	}
	return cfg, nil
}

// Reset drops the owner's override and returns the default configuration.
func (s *ChatConfigService) Reset(ctx context.Context, ownerID uuid.UUID) (*models.ChatConfig, error) {
	if err := s.repo.Delete(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("reset chat config: %w", err)
	}
	return s.Defaults(), nil
}

// normalize trims text fields and fills zero values from the defaults.
func (s *ChatConfigService) normalize(cfg *models.ChatConfig) {
	cfg.BotProfile.Name = strings.TrimSpace(cfg.BotProfile.Name)
	cfg.BotProfile.Description = strings.TrimSpace(cfg.BotProfile.Description)
	cfg.BotProfile.Appearance = strings.TrimSpace(cfg.BotProfile.Appearance)

	cfg.ChatSettings.UserName = strings.TrimSpace(cfg.ChatSettings.UserName)
	if cfg.ChatSettings.UserName == "" {
		cfg.ChatSettings.UserName = s.defaults.ChatSettings.UserName
	}
	if cfg.ChatSettings.MaxHistory == 0 {
		cfg.ChatSettings.MaxHistory = s.defaults.ChatSettings.MaxHistory
	}

	img := &cfg.ImageSettings
	img.Style = strings.TrimSpace(img.Style)
	img.NegativePrompt = strings.TrimSpace(img.NegativePrompt)
	if img.Width == 0 {
		img.Width = s.defaults.ImageSettings.Width
	}
	if img.Height == 0 {
		img.Height = s.defaults.ImageSettings.Height
	}

	seen := make(map[string]bool, len(img.TriggerWords))
	words := make([]string, 0, len(img.TriggerWords))
	for _, w := range img.TriggerWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	img.TriggerWords = words
}

func validateChatConfig(cfg *models.ChatConfig) map[string]string {
	fields := map[string]string{}

	if cfg.BotProfile.Name == "" {
		fields["bot_profile.name"] = "Bot name is required"
	} else if len(cfg.BotProfile.Name) > 100 {
		fields["bot_profile.name"] = "Bot name must be 100 characters or less"
	}
	if len(cfg.BotProfile.Description) > 4000 {
		fields["bot_profile.description"] = "Description must be 4000 characters or less"
	}

	if cfg.ChatSettings.MaxHistory < 1 || cfg.ChatSettings.MaxHistory > maxHistory {
		fields["chat_settings.max_history"] = fmt.Sprintf("Must be between 1 and %d", maxHistory)
	}
	if cfg.ChatSettings.Temperature < 0 || cfg.ChatSettings.Temperature > 2 {
		fields["chat_settings.temperature"] = "Must be between 0 and 2"
	}

	img := cfg.ImageSettings
	if img.EveryNMessages < 0 {
		fields["image_settings.every_n_messages"] = "Must be 0 or greater"
	}
	if img.Width < minImageSide || img.Width > maxImageSide {
		fields["image_settings.width"] = fmt.Sprintf("Must be between %d and %d", minImageSide, maxImageSide)
	}
	if img.Height < minImageSide || img.Height > maxImageSide {
		fields["image_settings.height"] = fmt.Sprintf("Must be between %d and %d", minImageSide, maxImageSide)
	}

	return fields
}
