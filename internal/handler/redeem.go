package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skolkollen/consent-core/internal/config"
	"github.com/skolkollen/consent-core/internal/service"
	"github.com/skolkollen/consent-core/internal/utils"
)

// RedeemHandler serves the guardian-facing redemption endpoints. These
// routes are unauthenticated (the token or code is the credential) and sit
// behind the rate limiter. All failure modes collapse into one generic
// response so a caller cannot distinguish revoked from expired from used.
type RedeemHandler struct {
	Cfg    config.Config
	Tokens *service.TokenService
}

func NewRedeemHandler(cfg config.Config, tokens *service.TokenService) *RedeemHandler {
	return &RedeemHandler{Cfg: cfg, Tokens: tokens}
}

type redeemTokenReq struct {
	Token string `json:"token"`
}

type redeemCodeReq struct {
	Code string `json:"code"`
}

type redeemResp struct {
	ConsentID     string    `json:"consent_id"`
	StudentID     string    `json:"student_id"`
	DecisionToken string    `json:"decision_token"`
	Expires       time.Time `json:"expires"`
}

const invalidGrantMsg = "invalid or expired link/code"

// RedeemToken redeems an email or QR token by id. On success the guardian
// receives a short-lived decision token for the approve/deny form.
func (h *RedeemHandler) RedeemToken(c echo.Context) error {
	var req redeemTokenReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tok := h.Tokens.ValidateToken(ctx, strings.TrimSpace(req.Token), c.RealIP(), c.Request().UserAgent())
	if tok == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": invalidGrantMsg})
	}
	return h.respond(c, tok.ConsentID, tok.StudentID)
}

// RedeemCode redeems an 8-digit access code.
func (h *RedeemHandler) RedeemCode(c echo.Context) error {
	var req redeemCodeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}
	code := strings.TrimSpace(req.Code)
	if len(code) != 8 || strings.Trim(code, "0123456789") != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code must be 8 digits"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tok := h.Tokens.ValidateAccessCode(ctx, code, c.RealIP(), c.Request().UserAgent())
	if tok == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": invalidGrantMsg})
	}
	return h.respond(c, tok.ConsentID, tok.StudentID)
}

func (h *RedeemHandler) respond(c echo.Context, consentID, studentID string) error {
	decision, err := utils.NewDecisionToken(h.Cfg.JWTSecret, consentID, studentID, h.Cfg.DecisionTokenTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue decision token failed"})
	}
	return c.JSON(http.StatusOK, redeemResp{
		ConsentID:     consentID,
		StudentID:     studentID,
		DecisionToken: decision.Token,
		Expires:       decision.Exp,
	})
}
