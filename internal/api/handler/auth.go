package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	IssueToken(userID uuid.UUID, ttl time.Duration) (string, error)
}

// AuthHandler issues development tokens. It is mounted only when dev
// tokens are enabled; production tokens come from the identity provider.
type AuthHandler struct {
	issuer TokenIssuer
	ttl    time.Duration
}

func NewAuthHandler(issuer TokenIssuer, ttl time.Duration) *AuthHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthHandler{issuer: issuer, ttl: ttl}
}

type tokenRequest struct {
	UserID string `json:"user_id"`
}

// IssueToken handles POST /v1/auth/token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	uid, err := uuid.Parse(req.UserID)
	if err != nil || uid == uuid.Nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user_id", "Invalid user_id")
		return
	}
	token, err := h.issuer.IssueToken(uid, h.ttl)
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-signing-failed", "Failed to sign token")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.ttl.Seconds()),
	})
}
