package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skolkollen/consent-core/internal/model"
	"github.com/skolkollen/consent-core/internal/repository"
	"github.com/skolkollen/consent-core/internal/service"
)

// SessionHandler exposes the retention-tracked session lifecycle to the quiz
// application.
type SessionHandler struct {
	Retention *service.RetentionService
}

func NewSessionHandler(retention *service.RetentionService) *SessionHandler {
	return &SessionHandler{Retention: retention}
}

type createSessionReq struct {
	UserID          string `json:"user_id"`
	GuestID         string `json:"guest_id"`
	RetentionMode   string `json:"retention_mode"` // korttid | långtid
	HasValidConsent bool   `json:"has_valid_consent"`
}

type appendResultReq struct {
	QuizID   string `json:"quiz_id"`
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
}

type sessionResp struct {
	ID               string     `json:"id"`
	RetentionMode    string     `json:"retention_mode"`
	HasValidConsent  bool       `json:"has_valid_consent"`
	LastActivity     time.Time  `json:"last_activity"`
	ScheduledCleanup *time.Time `json:"scheduled_cleanup,omitempty"`
}

// CreateSession begins a retention-tracked session for a user or guest.
func (h *SessionHandler) CreateSession(c echo.Context) error {
	var req createSessionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	userID := strings.TrimSpace(req.UserID)
	guestID := strings.TrimSpace(req.GuestID)
	if userID == "" && guestID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id or guest_id required"})
	}
	if req.RetentionMode != model.RetentionShortTerm && req.RetentionMode != model.RetentionLongTerm {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "retention_mode must be korttid or långtid"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var userPtr, guestPtr *string
	if userID != "" {
		userPtr = &userID
	}
	if guestID != "" {
		guestPtr = &guestID
	}
	sess, err := h.Retention.CreateSession(ctx, userPtr, guestPtr, req.RetentionMode, req.HasValidConsent)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create session failed"})
	}
	return c.JSON(http.StatusCreated, toSessionResp(sess))
}

// Activity records one activity tick, extending the rolling cleanup window.
func (h *SessionHandler) Activity(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Retention.UpdateActivity(ctx, c.Param("id"))
	if err != nil {
		if err == repository.ErrSessionNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, toSessionResp(sess))
}

// AppendResult stores a quiz result and bumps activity.
func (h *SessionHandler) AppendResult(c echo.Context) error {
	var req appendResultReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.QuizID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "quiz_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Retention.AppendQuizResult(ctx, c.Param("id"), req.QuizID, req.Score, req.MaxScore)
	if err != nil {
		if err == repository.ErrSessionNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "append failed"})
	}
	return c.JSON(http.StatusOK, toSessionResp(sess))
}

// Withdraw purges every session of a user immediately. Exposed to staff for
// GDPR erasure requests that arrive outside the consent decision flow.
func (h *SessionHandler) Withdraw(c echo.Context) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	n, err := h.Retention.WithdrawConsent(ctx, strings.TrimSpace(req.UserID), model.CleanupUserRequest)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "withdrawal failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions_purged": n})
}

// Stats returns the retention breakdown for dashboards.
func (h *SessionHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, err := h.Retention.GetRetentionStats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, stats)
}

func toSessionResp(s *model.Session) sessionResp {
	return sessionResp{
		ID:               s.ID,
		RetentionMode:    s.RetentionMode,
		HasValidConsent:  s.HasValidConsent,
		LastActivity:     s.LastActivity,
		ScheduledCleanup: s.ScheduledCleanup,
	}
}
