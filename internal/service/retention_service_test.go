package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
	"github.com/skolkollen/consent-core/internal/queue"
	"github.com/skolkollen/consent-core/internal/repository"
)

type stubSessionStore struct {
	sessions map[string]*model.Session
	results  map[string][]model.QuizResult
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{
		sessions: map[string]*model.Session{},
		results:  map[string][]model.QuizResult{},
	}
}

func (s *stubSessionStore) Create(ctx context.Context, sess *model.Session) error {
	copy := *sess
	s.sessions[sess.ID] = &copy
	return nil
}

func (s *stubSessionStore) GetByID(ctx context.Context, id string) (model.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, repository.ErrSessionNotFound
	}
	return *sess, nil
}

func (s *stubSessionStore) UpdateActivity(ctx context.Context, id string, lastActivity time.Time, cleanup *time.Time) (bool, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	sess.LastActivity = lastActivity
	if cleanup != nil {
		sess.ScheduledCleanup = cleanup
	}
	return true, nil
}

func (s *stubSessionStore) AddQuizResult(ctx context.Context, q *model.QuizResult) error {
	s.results[q.SessionID] = append(s.results[q.SessionID], *q)
	return nil
}

func (s *stubSessionStore) DeleteResults(ctx context.Context, sessionID string) (int64, error) {
	n := int64(len(s.results[sessionID]))
	delete(s.results, sessionID)
	return n, nil
}

func (s *stubSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s *stubSessionStore) ListByUser(ctx context.Context, userID string) ([]model.Session, error) {
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.UserID != nil && *sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *stubSessionStore) Stats(ctx context.Context) (active, shortTerm, longTerm int, err error) {
	for _, sess := range s.sessions {
		active++
		if sess.RetentionMode == model.RetentionShortTerm {
			shortTerm++
		} else {
			longTerm++
		}
	}
	return active, shortTerm, longTerm, nil
}

// stubJobStore mirrors the unique-per-session upsert of the SQL repository.
type stubJobStore struct {
	jobs map[string]*model.CleanupJob // keyed by session id
}

func newStubJobStore() *stubJobStore {
	return &stubJobStore{jobs: map[string]*model.CleanupJob{}}
}

func (s *stubJobStore) Upsert(ctx context.Context, j *model.CleanupJob) error {
	copy := *j
	if prev, ok := s.jobs[j.SessionID]; ok {
		copy.ID = prev.ID
	}
	s.jobs[j.SessionID] = &copy
	return nil
}

func (s *stubJobStore) Due(ctx context.Context, now time.Time) ([]model.CleanupJob, error) {
	var out []model.CleanupJob
	for _, j := range s.jobs {
		if !j.ScheduledFor.After(now) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *stubJobStore) Delete(ctx context.Context, id string) error {
	for sid, j := range s.jobs {
		if j.ID == id {
			delete(s.jobs, sid)
		}
	}
	return nil
}

func (s *stubJobStore) CountPending(ctx context.Context) (int, error) {
	return len(s.jobs), nil
}

type stubAudit struct {
	events []queue.DataPurgedEvent
}

func (s *stubAudit) PublishDataPurged(ctx context.Context, ev queue.DataPurgedEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func newTestRetentionService(sessions *stubSessionStore, jobs *stubJobStore, audit *stubAudit) *RetentionService {
	svc := NewRetentionService(sessions, jobs, audit, 4*time.Hour, 365*24*time.Hour)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	seq := 0
	svc.idGen = func() string { seq++; return "RET" + strconv.Itoa(seq) }
	return svc
}

func strPtr(v string) *string { return &v }

func TestCreateSessionShortTermSchedulesRollingCleanup(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)

	sess, err := svc.CreateSession(context.Background(), strPtr("u1"), nil, model.RetentionShortTerm, false)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	want := svc.now().Add(4 * time.Hour)
	if sess.ScheduledCleanup == nil || !sess.ScheduledCleanup.Equal(want) {
		t.Fatalf("scheduled cleanup %v, want %v", sess.ScheduledCleanup, want)
	}
	job := jobs.jobs[sess.ID]
	if job == nil {
		t.Fatalf("no cleanup job scheduled")
	}
	if job.RetentionMode != model.RetentionShortTerm || job.Reason != model.CleanupSessionTimeout {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestCreateSessionLongTermWithoutConsentDowngrades(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)

	// Missing consent silently forces the short rolling window even though
	// the caller asked for long-term retention.
	sess, err := svc.CreateSession(context.Background(), strPtr("u1"), nil, model.RetentionLongTerm, false)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	want := svc.now().Add(4 * time.Hour)
	if sess.ScheduledCleanup == nil || !sess.ScheduledCleanup.Equal(want) {
		t.Fatalf("scheduled cleanup %v, want %v", sess.ScheduledCleanup, want)
	}
	job := jobs.jobs[sess.ID]
	if job.RetentionMode != model.RetentionShortTerm {
		t.Fatalf("job retention mode %q, want %q", job.RetentionMode, model.RetentionShortTerm)
	}
}

func TestCreateSessionLongTermWithConsent(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)

	sess, err := svc.CreateSession(context.Background(), strPtr("u1"), nil, model.RetentionLongTerm, true)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if sess.ScheduledCleanup != nil {
		t.Fatalf("consented long-term session got a rolling cleanup: %v", sess.ScheduledCleanup)
	}
	job := jobs.jobs[sess.ID]
	if job == nil {
		t.Fatalf("no policy-horizon job scheduled")
	}
	want := svc.now().Add(365 * 24 * time.Hour)
	if !job.ScheduledFor.Equal(want) || job.Reason != model.CleanupPolicyChange {
		t.Fatalf("unexpected policy job: %+v", job)
	}
}

func TestActivityExtendsRollingWindow(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)
	ctx := context.Background()

	t0 := svc.now()
	sess, _ := svc.CreateSession(ctx, strPtr("u1"), nil, model.RetentionShortTerm, false)

	// Activity at T0+3h pushes the cleanup to T0+7h.
	svc.now = func() time.Time { return t0.Add(3 * time.Hour) }
	updated, err := svc.UpdateActivity(ctx, sess.ID)
	if err != nil {
		t.Fatalf("UpdateActivity error: %v", err)
	}
	want := t0.Add(7 * time.Hour)
	if updated.ScheduledCleanup == nil || !updated.ScheduledCleanup.Equal(want) {
		t.Fatalf("scheduled cleanup %v, want %v", updated.ScheduledCleanup, want)
	}
	if job := jobs.jobs[sess.ID]; !job.ScheduledFor.Equal(want) {
		t.Fatalf("job scheduled for %v, want %v", job.ScheduledFor, want)
	}

	// At T0+5h nothing is due yet; the original T0+4h deadline no longer exists.
	svc.now = func() time.Time { return t0.Add(5 * time.Hour) }
	n, err := svc.ProcessCleanupJobs(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ProcessCleanupJobs = %d, %v; want 0, nil", n, err)
	}
	if _, err := sessions.GetByID(ctx, sess.ID); err != nil {
		t.Fatalf("session purged before its extended deadline")
	}

	// At T0+7h the job is due and the session goes away.
	svc.now = func() time.Time { return t0.Add(7 * time.Hour) }
	n, err = svc.ProcessCleanupJobs(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ProcessCleanupJobs = %d, %v; want 1, nil", n, err)
	}
	if _, err := sessions.GetByID(ctx, sess.ID); err != repository.ErrSessionNotFound {
		t.Fatalf("session still present after due cleanup")
	}
}

func TestActivityOnUnknownSession(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)

	if _, err := svc.UpdateActivity(context.Background(), "nope"); err != repository.ErrSessionNotFound {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestAppendQuizResultBumpsActivity(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)
	ctx := context.Background()

	t0 := svc.now()
	sess, _ := svc.CreateSession(ctx, nil, strPtr("g1"), model.RetentionShortTerm, false)

	svc.now = func() time.Time { return t0.Add(time.Hour) }
	updated, err := svc.AppendQuizResult(ctx, sess.ID, "quiz-9", 7, 10)
	if err != nil {
		t.Fatalf("AppendQuizResult error: %v", err)
	}
	if len(sessions.results[sess.ID]) != 1 {
		t.Fatalf("result not stored")
	}
	want := t0.Add(5 * time.Hour)
	if updated.ScheduledCleanup == nil || !updated.ScheduledCleanup.Equal(want) {
		t.Fatalf("scheduled cleanup %v, want %v", updated.ScheduledCleanup, want)
	}
}

func TestWithdrawConsentPurgesImmediately(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)
	ctx := context.Background()

	long, _ := svc.CreateSession(ctx, strPtr("u1"), nil, model.RetentionLongTerm, true)
	short, _ := svc.CreateSession(ctx, strPtr("u1"), nil, model.RetentionShortTerm, false)
	other, _ := svc.CreateSession(ctx, strPtr("u2"), nil, model.RetentionShortTerm, false)
	svc.AppendQuizResult(ctx, short.ID, "quiz-1", 5, 10)

	n, err := svc.WithdrawConsent(ctx, "u1", model.CleanupConsentWithdrawn)
	if err != nil {
		t.Fatalf("WithdrawConsent error: %v", err)
	}
	if n != 2 {
		t.Fatalf("withdrew %d sessions, want 2", n)
	}
	if _, err := sessions.GetByID(ctx, long.ID); err != repository.ErrSessionNotFound {
		t.Fatalf("long-term session survived withdrawal")
	}
	if _, err := sessions.GetByID(ctx, short.ID); err != repository.ErrSessionNotFound {
		t.Fatalf("short-term session survived withdrawal")
	}
	if _, err := sessions.GetByID(ctx, other.ID); err != nil {
		t.Fatalf("unrelated user's session purged")
	}
	if len(sessions.results[short.ID]) != 0 {
		t.Fatalf("quiz results survived withdrawal")
	}
	if len(audit.events) != 2 {
		t.Fatalf("published %d audit events, want 2", len(audit.events))
	}
	for _, ev := range audit.events {
		if ev.Reason != model.CleanupConsentWithdrawn {
			t.Fatalf("audit reason %q, want %q", ev.Reason, model.CleanupConsentWithdrawn)
		}
	}
}

func TestWithdrawUserRequestReasonAudited(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)
	ctx := context.Background()

	sess, _ := svc.CreateSession(ctx, strPtr("u1"), nil, model.RetentionShortTerm, false)

	// A direct erasure request is distinguishable from a guardian's consent
	// withdrawal in the audit trail.
	n, err := svc.WithdrawConsent(ctx, "u1", model.CleanupUserRequest)
	if err != nil || n != 1 {
		t.Fatalf("WithdrawConsent = %d, %v; want 1, nil", n, err)
	}
	if _, err := sessions.GetByID(ctx, sess.ID); err != repository.ErrSessionNotFound {
		t.Fatalf("session survived erasure request")
	}
	if len(audit.events) != 1 || audit.events[0].Reason != model.CleanupUserRequest {
		t.Fatalf("unexpected audit events: %+v", audit.events)
	}
}

func TestCleanupMissingSessionIsNoOp(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)
	ctx := context.Background()

	jobs.jobs["gone"] = &model.CleanupJob{
		ID:            "J1",
		SessionID:     "gone",
		ScheduledFor:  svc.now().Add(-time.Minute),
		RetentionMode: model.RetentionShortTerm,
		Reason:        model.CleanupSessionTimeout,
	}

	n, err := svc.ProcessCleanupJobs(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ProcessCleanupJobs = %d, %v; want 0, nil", n, err)
	}
	if len(jobs.jobs) != 0 {
		t.Fatalf("stale job not dropped")
	}
	if len(audit.events) != 0 {
		t.Fatalf("no-op cleanup published an audit event")
	}

	// Running again with nothing due stays quiet.
	if n, err := svc.ProcessCleanupJobs(ctx); err != nil || n != 0 {
		t.Fatalf("second run = %d, %v; want 0, nil", n, err)
	}
}

func TestCleanupLongTermKeepsResultSemantics(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)
	ctx := context.Background()

	sess, _ := svc.CreateSession(ctx, strPtr("u1"), nil, model.RetentionLongTerm, true)
	svc.AppendQuizResult(ctx, sess.ID, "quiz-1", 9, 10)

	// Force the policy job due now.
	jobs.jobs[sess.ID].ScheduledFor = svc.now()
	n, err := svc.ProcessCleanupJobs(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ProcessCleanupJobs = %d, %v; want 1, nil", n, err)
	}
	ev := audit.events[0]
	if ev.RetentionMode != model.RetentionLongTerm || ev.ResultCount != 0 {
		t.Fatalf("unexpected audit event: %+v", ev)
	}
	for _, dt := range ev.DataTypes {
		if dt == "quiz_results" {
			t.Fatalf("long-term purge reported quiz result erasure")
		}
	}
}

func TestGetRetentionStats(t *testing.T) {
	sessions, jobs, audit := newStubSessionStore(), newStubJobStore(), &stubAudit{}
	svc := newTestRetentionService(sessions, jobs, audit)
	ctx := context.Background()

	svc.CreateSession(ctx, strPtr("u1"), nil, model.RetentionShortTerm, false)
	svc.CreateSession(ctx, strPtr("u2"), nil, model.RetentionLongTerm, true)

	stats, err := svc.GetRetentionStats(ctx)
	if err != nil {
		t.Fatalf("GetRetentionStats error: %v", err)
	}
	if stats.ActiveSessions != 2 || stats.ShortTerm != 1 || stats.LongTerm != 1 || stats.PendingCleanups != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
