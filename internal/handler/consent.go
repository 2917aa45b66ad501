package handler

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/skolkollen/consent-core/internal/config"
	"github.com/skolkollen/consent-core/internal/model"
	"github.com/skolkollen/consent-core/internal/repository"
	"github.com/skolkollen/consent-core/internal/service"
)

// ConsentHandler bundles dependencies for the staff-facing consent flow.
type ConsentHandler struct {
	Cfg           config.Config
	Consents      *repository.ConsentRepo
	Tokens        *service.TokenService
	Notifications *service.NotificationService
	Retention     *service.RetentionService
}

func NewConsentHandler(cfg config.Config, consents *repository.ConsentRepo, tokens *service.TokenService, notifications *service.NotificationService, retention *service.RetentionService) *ConsentHandler {
	return &ConsentHandler{Cfg: cfg, Consents: consents, Tokens: tokens, Notifications: notifications, Retention: retention}
}

// ----- DTOs -----

type createConsentReq struct {
	StudentID     string `json:"student_id"`
	GuardianEmail string `json:"guardian_email"`
	GuardianName  string `json:"guardian_name"`
	Method        string `json:"method"`     // email_link | qr_code | access_code
	Supersedes    string `json:"supersedes"` // prior consent id whose tokens are revoked
}

type consentPart struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	GuardianEmail string    `json:"guardian_email"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type createConsentResp struct {
	Consent       consentPart `json:"consent"`
	AccessCode    string      `json:"access_code"`
	CodeExpiresAt time.Time   `json:"code_expires_at"`
	ConsentURL    string      `json:"consent_url"`
	QRURL         string      `json:"qr_url"`
	EmailStatus   string      `json:"email_status"`
}

type decisionReq struct {
	Decision string `json:"decision"` // approved | denied
}

// CreateConsentRequest creates a consent record, mints the guardian-facing
// grants (access code, email link, QR) and sends the request email. A mail
// failure is reported in email_status but does not lose the created record.
func (h *ConsentHandler) CreateConsentRequest(c echo.Context) error {
	var req createConsentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.GuardianEmail = strings.ToLower(strings.TrimSpace(req.GuardianEmail))
	if req.StudentID == "" || req.GuardianEmail == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "student_id/guardian_email required"})
	}
	method := req.Method
	switch method {
	case model.MethodEmailLink, model.MethodQRCode, model.MethodAccessCode:
	case "":
		method = model.MethodEmailLink
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown method"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	// A new request supersedes the previous one for the same student: old
	// tokens must stop working before fresh ones go out.
	if prior := strings.TrimSpace(req.Supersedes); prior != "" {
		if n, err := h.Tokens.RevokeAllForConsent(ctx, prior); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke prior tokens failed"})
		} else if n > 0 {
			log.Printf("consent: revoked %d tokens of superseded consent %s", n, prior)
		}
	}

	now := time.Now().UTC()
	rec := model.ConsentRecord{
		ID:            uuid.NewString(),
		StudentID:     req.StudentID,
		GuardianEmail: req.GuardianEmail,
		GuardianName:  strings.TrimSpace(req.GuardianName),
		Status:        model.ConsentPending,
		Method:        method,
		ExpiresAt:     now.Add(h.Cfg.ConsentTTL),
		CreatedAt:     now,
	}
	if err := h.Consents.Create(ctx, &rec); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create consent failed"})
	}

	codeTok, err := h.Tokens.IssueAccessCode(ctx, rec)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access code failed"})
	}

	emailStatus := model.NotificationSent
	if _, err := h.Notifications.SendConsentRequest(ctx, rec); err != nil {
		log.Printf("consent: request mail for %s failed: %v", rec.ID, err)
		emailStatus = model.NotificationFailed
	}

	linkTok, err := h.Tokens.IssueEmailToken(ctx, rec)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue link token failed"})
	}

	return c.JSON(http.StatusCreated, createConsentResp{
		Consent: consentPart{
			ID:            rec.ID,
			StudentID:     rec.StudentID,
			GuardianEmail: rec.GuardianEmail,
			Status:        rec.Status,
			ExpiresAt:     rec.ExpiresAt,
		},
		AccessCode:    *codeTok.AccessCode,
		CodeExpiresAt: codeTok.ExpiresAt,
		ConsentURL:    h.Tokens.BuildConsentURL(linkTok),
		QRURL:         h.Cfg.BaseURL + "/v1/consents/" + rec.ID + "/qr",
		EmailStatus:   emailStatus,
	})
}

// Remind re-sends the consent request for a still-pending record.
func (h *ConsentHandler) Remind(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	rec, err := h.Consents.GetByID(ctx, c.Param("id"))
	if err != nil {
		if err == repository.ErrConsentNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "consent not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if rec.Status != model.ConsentPending {
		return c.JSON(http.StatusConflict, echo.Map{"error": "consent already decided"})
	}
	n, err := h.Notifications.SendConsentReminder(ctx, rec)
	if err != nil {
		resp := echo.Map{"error": "reminder delivery failed"}
		if n != nil {
			// The failed attempt is still on record for the audit trail.
			resp["notification_id"] = n.ID
		}
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, echo.Map{"notification_id": n.ID, "status": n.Status})
}

// Decide records the guardian's decision. The route sits behind GuardianAuth,
// so the decision token's consent id must match the path.
func (h *ConsentHandler) Decide(c echo.Context) error {
	if cid, _ := c.Get("consent_id").(string); cid != c.Param("id") {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	var req decisionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Decision != model.ConsentApproved && req.Decision != model.ConsentDenied {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "decision must be approved or denied"})
	}
	return h.applyDecision(c, c.Param("id"), req.Decision, true)
}

// Revoke lets staff record a guardian-initiated withdrawal of a previously
// approved consent.
func (h *ConsentHandler) Revoke(c echo.Context) error {
	return h.applyDecision(c, c.Param("id"), model.ConsentRevoked, false)
}

// applyDecision persists the new status and runs the follow-up effects:
// status mail to the guardian, token revocation, and for denied/revoked an
// immediate retention withdrawal for the student.
func (h *ConsentHandler) applyDecision(c echo.Context, consentID, decision string, requirePending bool) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	rec, err := h.Consents.GetByID(ctx, consentID)
	if err != nil {
		if err == repository.ErrConsentNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "consent not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if requirePending && rec.Status != model.ConsentPending {
		return c.JSON(http.StatusConflict, echo.Map{"error": "consent already decided"})
	}
	if decision == model.ConsentRevoked && rec.Status != model.ConsentApproved {
		return c.JSON(http.StatusConflict, echo.Map{"error": "only approved consent can be revoked"})
	}

	now := time.Now().UTC()
	if _, err := h.Consents.UpdateStatus(ctx, rec.ID, decision, now); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update status failed"})
	}
	rec.Status = decision
	rec.DecidedAt = &now

	// Remaining unredeemed grants must stop working once a decision exists.
	if n, err := h.Tokens.RevokeAllForConsent(ctx, rec.ID); err != nil {
		log.Printf("consent: revoke tokens for %s failed: %v", rec.ID, err)
	} else if n > 0 {
		log.Printf("consent: revoked %d open tokens for decided consent %s", n, rec.ID)
	}

	if _, err := h.Notifications.SendConsentStatusNotification(ctx, rec, decision); err != nil {
		log.Printf("consent: status mail for %s failed: %v", rec.ID, err)
	}

	purged := 0
	if decision == model.ConsentDenied || decision == model.ConsentRevoked {
		purged, err = h.Retention.WithdrawConsent(ctx, rec.StudentID, model.CleanupConsentWithdrawn)
		if err != nil {
			log.Printf("consent: retention withdrawal for %s failed: %v", rec.StudentID, err)
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"consent_id":      rec.ID,
		"status":          rec.Status,
		"decided_at":      now,
		"sessions_purged": purged,
	})
}

// ListNotifications returns the message audit trail for a consent record,
// newest first.
func (h *ConsentHandler) ListNotifications(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Notifications.GetNotificationsForConsent(ctx, c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": list})
}

// TokenStats returns aggregate token counts, scoped to one consent when the
// path carries an id.
func (h *ConsentHandler) TokenStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, err := h.Tokens.Stats(ctx, c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, stats)
}

// QRCode renders a scannable consent link for display in the classroom.
func (h *ConsentHandler) QRCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	rec, err := h.Consents.GetByID(ctx, c.Param("id"))
	if err != nil {
		if err == repository.ErrConsentNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "consent not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if rec.Status != model.ConsentPending {
		return c.JSON(http.StatusConflict, echo.Map{"error": "consent already decided"})
	}
	png, err := h.Notifications.GenerateConsentQRCode(ctx, rec)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "render qr failed"})
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
