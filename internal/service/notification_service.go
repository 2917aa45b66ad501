package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/skolkollen/consent-core/internal/model"
)

// NotificationStore is the persistence contract for outbound notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *model.ConsentNotification) error
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
	ListByConsent(ctx context.Context, consentID string) ([]model.ConsentNotification, error)
}

// Mailer delivers one message to one recipient. The SMTP implementation
// lives in mailer.go; tests use a deterministic stub. Delivery is assumed to
// fail intermittently and is not retried here.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// TokenIssuer is the slice of the token service the notification service
// needs. Keeping it an interface keeps token minting and message composition
// separable concerns.
type TokenIssuer interface {
	IssueEmailToken(ctx context.Context, rec model.ConsentRecord) (*model.AccessToken, error)
	IssueQRToken(ctx context.Context, rec model.ConsentRecord) (*model.AccessToken, error)
	BuildConsentURL(t *model.AccessToken) string
}

// NotificationService composes guardian-facing messages in Swedish, attempts
// delivery and tracks the outcome. Every attempt leaves a durable record:
// the row is written as pending before the send and transitions to sent or
// failed afterwards, never disappearing on error.
type NotificationService struct {
	store  NotificationStore
	mailer Mailer
	tokens TokenIssuer
	now    func() time.Time
	idGen  func() string
}

func NewNotificationService(store NotificationStore, mailer Mailer, tokens TokenIssuer) *NotificationService {
	return &NotificationService{
		store:  store,
		mailer: mailer,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  uuid.NewString,
	}
}

// SendConsentRequest mints a fresh email token for the consent record and
// sends the guardian the initial request message. The send error, if any, is
// returned alongside the persisted notification so the caller can react
// while the failed record stays available for inspection.
func (s *NotificationService) SendConsentRequest(ctx context.Context, rec model.ConsentRecord) (*model.ConsentNotification, error) {
	tok, err := s.tokens.IssueEmailToken(ctx, rec)
	if err != nil {
		return nil, err
	}
	url := s.tokens.BuildConsentURL(tok)
	subject := fmt.Sprintf("Samtycke krävs för %s", rec.StudentID)
	body := fmt.Sprintf(
		"Hej %s,\n\n"+
			"En lärare har begärt ditt samtycke för att spara resultatdata för eleven %s.\n"+
			"Granska och besvara begäran via länken nedan:\n\n%s\n\n"+
			"Länken är giltig till %s och kan bara användas en gång.\n\n"+
			"Med vänliga hälsningar,\nSkolkollen",
		rec.GuardianName, rec.StudentID, url, tok.ExpiresAt.Format("2006-01-02 15:04"))
	return s.deliver(ctx, rec, model.NotifyConsentRequest, subject, body, &url, &tok.ExpiresAt)
}

// SendConsentReminder nudges the guardian about a still-pending request. A
// new token is minted so the reminder link is live even if the original
// expired.
func (s *NotificationService) SendConsentReminder(ctx context.Context, rec model.ConsentRecord) (*model.ConsentNotification, error) {
	tok, err := s.tokens.IssueEmailToken(ctx, rec)
	if err != nil {
		return nil, err
	}
	url := s.tokens.BuildConsentURL(tok)
	subject := fmt.Sprintf("Påminnelse: samtycke väntar för %s", rec.StudentID)
	body := fmt.Sprintf(
		"Hej %s,\n\n"+
			"Detta är en påminnelse om att en samtyckesbegäran för eleven %s fortfarande väntar på svar.\n"+
			"Besvara begäran via länken nedan:\n\n%s\n\n"+
			"Länken är giltig till %s.\n\n"+
			"Med vänliga hälsningar,\nSkolkollen",
		rec.GuardianName, rec.StudentID, url, tok.ExpiresAt.Format("2006-01-02 15:04"))
	return s.deliver(ctx, rec, model.NotifyConsentReminder, subject, body, &url, &tok.ExpiresAt)
}

// SendConsentStatusNotification confirms a recorded decision to the guardian.
// newStatus must be approved, denied or revoked.
func (s *NotificationService) SendConsentStatusNotification(ctx context.Context, rec model.ConsentRecord, newStatus string) (*model.ConsentNotification, error) {
	var notifType, subject, line string
	switch newStatus {
	case model.ConsentApproved:
		notifType = model.NotifyConsentApproved
		subject = fmt.Sprintf("Samtycke godkänt för %s", rec.StudentID)
		line = "Ditt samtycke har registrerats som godkänt. Elevens resultatdata kan nu sparas enligt överenskommelsen."
	case model.ConsentDenied:
		notifType = model.NotifyConsentDenied
		subject = fmt.Sprintf("Samtycke nekat för %s", rec.StudentID)
		line = "Ditt svar har registrerats som nekat. Ingen resultatdata sparas långsiktigt för eleven."
	case model.ConsentRevoked:
		notifType = model.NotifyConsentRevoked
		subject = fmt.Sprintf("Samtycke återkallat för %s", rec.StudentID)
		line = "Ditt samtycke har återkallats. Sparad resultatdata för eleven raderas."
	default:
		return nil, fmt.Errorf("unsupported status notification: %q", newStatus)
	}
	body := fmt.Sprintf("Hej %s,\n\n%s\n\nMed vänliga hälsningar,\nSkolkollen", rec.GuardianName, line)
	return s.deliver(ctx, rec, notifType, subject, body, nil, nil)
}

// deliver persists the notification as pending, attempts the send and
// records the outcome. A send failure is propagated after the status update.
func (s *NotificationService) deliver(ctx context.Context, rec model.ConsentRecord, notifType, subject, body string, actionURL *string, expiresAt *time.Time) (*model.ConsentNotification, error) {
	n := &model.ConsentNotification{
		ID:          s.idGen(),
		Type:        notifType,
		StudentID:   rec.StudentID,
		ParentEmail: rec.GuardianEmail,
		ParentName:  rec.GuardianName,
		ConsentID:   rec.ID,
		Status:      model.NotificationPending,
		Method:      "email",
		Subject:     subject,
		Body:        body,
		ActionURL:   actionURL,
		ExpiresAt:   expiresAt,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	if err := s.mailer.Send(ctx, n.ParentEmail, n.Subject, n.Body); err != nil {
		n.Status = model.NotificationFailed
		if markErr := s.store.MarkFailed(ctx, n.ID); markErr != nil {
			return n, fmt.Errorf("send failed (%v) and status update failed: %w", err, markErr)
		}
		return n, fmt.Errorf("send notification %s: %w", n.ID, err)
	}
	sentAt := s.now()
	n.Status = model.NotificationSent
	n.SentAt = &sentAt
	if err := s.store.MarkSent(ctx, n.ID, sentAt); err != nil {
		return n, err
	}
	return n, nil
}

// GenerateConsentQRCode mints a QR token for the record and renders its
// action URL as a 256x256 PNG. Purely derived output apart from the token.
func (s *NotificationService) GenerateConsentQRCode(ctx context.Context, rec model.ConsentRecord) ([]byte, error) {
	tok, err := s.tokens.IssueQRToken(ctx, rec)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(s.tokens.BuildConsentURL(tok), qrcode.Medium, 256)
}

// GetNotificationsForConsent returns the audit trail for one consent record,
// newest first.
func (s *NotificationService) GetNotificationsForConsent(ctx context.Context, consentID string) ([]model.ConsentNotification, error) {
	return s.store.ListByConsent(ctx, consentID)
}
