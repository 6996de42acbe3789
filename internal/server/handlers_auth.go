package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumenworks/taskpilot/backend/internal/users"
	"go.uber.org/zap"
)

type googleAuthRequest struct {
	IDToken string `json:"id_token"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	User        *users.User `json:"user"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request googleAuthRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.users.Upsert(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("user upsert failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_upsert_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		User:        user,
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	sc, ok := h.requestScope(c)
	if !ok {
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), sc.UserID())
	if err != nil {
		// A valid token for a vanished account still fails closed.
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
