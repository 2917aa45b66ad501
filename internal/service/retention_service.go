package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/skolkollen/consent-core/internal/model"
	"github.com/skolkollen/consent-core/internal/queue"
	"github.com/skolkollen/consent-core/internal/repository"
)

// SessionStore is the persistence contract for retention sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (model.Session, error)
	UpdateActivity(ctx context.Context, id string, lastActivity time.Time, cleanup *time.Time) (bool, error)
	AddQuizResult(ctx context.Context, q *model.QuizResult) error
	DeleteResults(ctx context.Context, sessionID string) (int64, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]model.Session, error)
	Stats(ctx context.Context) (active, shortTerm, longTerm int, err error)
}

// CleanupJobStore is the persistence contract for purge jobs. Upsert must
// replace the session's pending job rather than duplicating it.
type CleanupJobStore interface {
	Upsert(ctx context.Context, j *model.CleanupJob) error
	Due(ctx context.Context, now time.Time) ([]model.CleanupJob, error)
	Delete(ctx context.Context, id string) error
	CountPending(ctx context.Context) (int, error)
}

// AuditPublisher emits a purge event per executed cleanup job. Publish
// failures must not block the purge itself.
type AuditPublisher interface {
	PublishDataPurged(ctx context.Context, ev queue.DataPurgedEvent) error
}

// RetentionService tracks how long a session's data may live and enforces
// deletion on schedule or on demand.
//
// A session runs in a rolling short window when its mode is korttid, or when
// it is långtid without valid consent: the missing consent silently
// downgrades retention to short-term rather than erroring. Consented
// long-term sessions instead get one far-future job bounding retention at
// the policy horizon.
type RetentionService struct {
	sessions      SessionStore
	jobs          CleanupJobStore
	audit         AuditPublisher
	idleWindow    time.Duration // rolling inactivity window, normally 4h
	longRetention time.Duration // policy bound for consented long-term data
	now           func() time.Time
	idGen         func() string
}

func NewRetentionService(sessions SessionStore, jobs CleanupJobStore, audit AuditPublisher, idleWindow, longRetention time.Duration) *RetentionService {
	return &RetentionService{
		sessions:      sessions,
		jobs:          jobs,
		audit:         audit,
		idleWindow:    idleWindow,
		longRetention: longRetention,
		now:           func() time.Time { return time.Now().UTC() },
		idGen:         uuid.NewString,
	}
}

// rollingWindow reports whether the session is governed by the short
// inactivity window.
func rollingWindow(s *model.Session) bool {
	return s.RetentionMode == model.RetentionShortTerm || !s.HasValidConsent
}

// CreateSession builds a session and schedules its first cleanup job.
// Rolling sessions get a job at now+idleWindow capturing short-term purge
// semantics; consented long-term sessions get a job at the policy horizon.
func (s *RetentionService) CreateSession(ctx context.Context, userID, guestID *string, retentionMode string, hasValidConsent bool) (*model.Session, error) {
	now := s.now()
	sess := &model.Session{
		ID:              s.idGen(),
		UserID:          userID,
		GuestID:         guestID,
		RetentionMode:   retentionMode,
		HasValidConsent: hasValidConsent,
		LastActivity:    now,
		CreatedAt:       now,
	}

	var job *model.CleanupJob
	if rollingWindow(sess) {
		cleanup := now.Add(s.idleWindow)
		sess.ScheduledCleanup = &cleanup
		job = &model.CleanupJob{
			ID:            s.idGen(),
			SessionID:     sess.ID,
			ScheduledFor:  cleanup,
			RetentionMode: model.RetentionShortTerm,
			Reason:        model.CleanupSessionTimeout,
			CreatedAt:     now,
		}
	} else {
		// Consent-backed long-term retention still ends somewhere; a concrete
		// job makes the policy horizon enforceable and auditable.
		job = &model.CleanupJob{
			ID:            s.idGen(),
			SessionID:     sess.ID,
			ScheduledFor:  now.Add(s.longRetention),
			RetentionMode: model.RetentionLongTerm,
			Reason:        model.CleanupPolicyChange,
			CreatedAt:     now,
		}
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.jobs.Upsert(ctx, job); err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateActivity bumps the session's last activity. Rolling sessions have
// their cleanup pushed to lastActivity+idleWindow; the schedule only ever
// moves forward. Unknown ids are a caller error (ErrSessionNotFound), unlike
// cleanup execution which tolerates them.
func (s *RetentionService) UpdateActivity(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.bumpActivity(ctx, &sess)
}

// AppendQuizResult stores one result row and performs the same activity bump
// as UpdateActivity.
func (s *RetentionService) AppendQuizResult(ctx context.Context, sessionID, quizID string, score, maxScore int) (*model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	q := &model.QuizResult{
		ID:        s.idGen(),
		SessionID: sess.ID,
		QuizID:    quizID,
		Score:     score,
		MaxScore:  maxScore,
		CreatedAt: s.now(),
	}
	if err := s.sessions.AddQuizResult(ctx, q); err != nil {
		return nil, err
	}
	return s.bumpActivity(ctx, &sess)
}

func (s *RetentionService) bumpActivity(ctx context.Context, sess *model.Session) (*model.Session, error) {
	now := s.now()
	sess.LastActivity = now

	var cleanup *time.Time
	if rollingWindow(sess) {
		next := now.Add(s.idleWindow)
		// Never shrink an already later schedule.
		if sess.ScheduledCleanup != nil && sess.ScheduledCleanup.After(next) {
			next = *sess.ScheduledCleanup
		}
		cleanup = &next
		sess.ScheduledCleanup = &next
	}

	ok, err := s.sessions.UpdateActivity(ctx, sess.ID, now, cleanup)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, repository.ErrSessionNotFound
	}

	if cleanup != nil {
		job := &model.CleanupJob{
			ID:            s.idGen(),
			SessionID:     sess.ID,
			ScheduledFor:  *cleanup,
			RetentionMode: model.RetentionShortTerm,
			Reason:        model.CleanupSessionTimeout,
			CreatedAt:     now,
		}
		if err := s.jobs.Upsert(ctx, job); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// WithdrawConsent schedules an immediate purge for every session belonging
// to the user and processes the jobs synchronously: withdrawal is honored
// promptly, not at the next timer tick. The reason is recorded on the jobs
// and flows into the audit events, distinguishing a guardian's consent
// withdrawal from a direct erasure request. Returns the number of sessions
// scheduled for purge.
func (s *RetentionService) WithdrawConsent(ctx context.Context, userID, reason string) (int, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for i := range sessions {
		mode := model.RetentionLongTerm
		if rollingWindow(&sessions[i]) {
			mode = model.RetentionShortTerm
		}
		job := &model.CleanupJob{
			ID:            s.idGen(),
			SessionID:     sessions[i].ID,
			ScheduledFor:  now,
			RetentionMode: mode,
			Reason:        reason,
			CreatedAt:     now,
		}
		if err := s.jobs.Upsert(ctx, job); err != nil {
			return 0, err
		}
	}
	if _, err := s.ProcessCleanupJobs(ctx); err != nil {
		return len(sessions), err
	}
	return len(sessions), nil
}

// ProcessCleanupJobs executes every due job: erase the session's stored
// data (quiz results only under short-term semantics, the session row
// always), remove the job and emit an audit event. A job whose session is
// already gone is a logged no-op, so duplicate ticks never error. Per-job
// failures are contained and logged; the sweep continues. Returns the
// number of sessions actually purged.
func (s *RetentionService) ProcessCleanupJobs(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.jobs.Due(ctx, now)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, job := range due {
		sess, err := s.sessions.GetByID(ctx, job.SessionID)
		if err == repository.ErrSessionNotFound {
			log.Printf("cleanup: session %s already gone, dropping job %s", job.SessionID, job.ID)
			if err := s.jobs.Delete(ctx, job.ID); err != nil {
				log.Printf("cleanup: drop job %s failed: %v", job.ID, err)
			}
			continue
		}
		if err != nil {
			log.Printf("cleanup: load session %s failed: %v", job.SessionID, err)
			continue
		}

		dataTypes := []string{"session"}
		var resultCount int64
		if job.RetentionMode == model.RetentionShortTerm {
			resultCount, err = s.sessions.DeleteResults(ctx, job.SessionID)
			if err != nil {
				log.Printf("cleanup: erase results for %s failed: %v", job.SessionID, err)
				continue
			}
			dataTypes = append(dataTypes, "quiz_results")
		}
		if _, err := s.sessions.Delete(ctx, job.SessionID); err != nil {
			log.Printf("cleanup: erase session %s failed: %v", job.SessionID, err)
			continue
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			log.Printf("cleanup: drop job %s failed: %v", job.ID, err)
		}
		purged++

		ev := queue.DataPurgedEvent{
			SessionID:     job.SessionID,
			RetentionMode: job.RetentionMode,
			Reason:        job.Reason,
			DataTypes:     dataTypes,
			ResultCount:   resultCount,
			PurgedAt:      now.Format(time.RFC3339),
		}
		if sess.UserID != nil {
			ev.UserID = *sess.UserID
		}
		if sess.GuestID != nil {
			ev.GuestID = *sess.GuestID
		}
		if err := s.audit.PublishDataPurged(ctx, ev); err != nil {
			log.Printf("cleanup: audit publish for %s failed: %v", job.SessionID, err)
		}
	}
	return purged, nil
}

// GetRetentionStats returns the operational breakdown for dashboards.
func (s *RetentionService) GetRetentionStats(ctx context.Context) (model.RetentionStats, error) {
	active, shortTerm, longTerm, err := s.sessions.Stats(ctx)
	if err != nil {
		return model.RetentionStats{}, err
	}
	pending, err := s.jobs.CountPending(ctx)
	if err != nil {
		return model.RetentionStats{}, err
	}
	return model.RetentionStats{
		ActiveSessions:  active,
		ShortTerm:       shortTerm,
		LongTerm:        longTerm,
		PendingCleanups: pending,
	}, nil
}
