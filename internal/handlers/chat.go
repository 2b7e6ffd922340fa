package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"animify-backend/internal/middleware"
	"animify-backend/internal/models"
)

type chatReplier interface {
	Reply(ctx context.Context, ownerID uuid.UUID, req models.ChatRequest) (*models.ChatResponse, error)
}

type chatConfigStore interface {
	Get(ctx context.Context, ownerID uuid.UUID) (*models.ChatConfig, error)
	Update(ctx context.Context, ownerID uuid.UUID, cfg *models.ChatConfig) (*models.ChatConfig, error)
	Reset(ctx context.Context, ownerID uuid.UUID) (*models.ChatConfig, error)
}

type ChatHandler struct {
	chat    chatReplier
	configs chatConfigStore
}

func NewChatHandler(chat chatReplier, configs chatConfigStore) *ChatHandler {
	return &ChatHandler{chat: chat, configs: configs}
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.chat.Reply(r.Context(), middleware.GetOwnerID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Get(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ChatHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.ChatConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}

	saved, err := h.configs.Update(r.Context(), middleware.GetOwnerID(r.Context()), &cfg)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *ChatHandler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Reset(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
