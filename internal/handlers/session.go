package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"animify-backend/internal/models"
)

type sessionIssuer interface {
	GenerateSessionToken(ownerID uuid.UUID) (string, time.Time, error)
}

// SessionHandler hands out anonymous owner identities. Everything a client
// creates is scoped to the owner id inside its token.
type SessionHandler struct {
	auth sessionIssuer
}

func NewSessionHandler(auth sessionIssuer) *SessionHandler {
	return &SessionHandler{auth: auth}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := uuid.New()
	token, expiresAt, err := h.auth.GenerateSessionToken(ownerID)
	if err != nil {
		log.Printf("failed to sign session token: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Could not create session", r))
		return
	}

	writeJSON(w, http.StatusCreated, models.SessionResponse{
		OwnerID:   ownerID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
