// Package jobs hosts the ticker-driven background sweeps. Each job runs in
// its own goroutine, stops when the context is cancelled, and contains all
// per-tick failures so one bad tick never kills the scheduler.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/skolkollen/consent-core/internal/model"
	"github.com/skolkollen/consent-core/internal/service"
)

// PendingConsentLister is the slice of the consent store the reminder job
// needs.
type PendingConsentLister interface {
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.ConsentRecord, error)
}

// StartTokenSweep deletes expired access tokens on the given interval.
// Validation already rejects expired tokens; the sweep only bounds storage.
func StartTokenSweep(ctx context.Context, tokens *service.TokenService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				n, err := tokens.SweepExpired(tickCtx)
				cancel()
				if err != nil {
					log.Printf("token sweep error: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("token sweep removed %d expired tokens", n)
				}
			}
		}
	}()
}

// StartCleanupSweep executes due cleanup jobs on the given interval. Consent
// withdrawal additionally triggers an immediate run through the retention
// service, so this cadence is an upper bound on purge latency, not the only
// trigger.
func StartCleanupSweep(ctx context.Context, retention *service.RetentionService, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
				n, err := retention.ProcessCleanupJobs(tickCtx)
				cancel()
				if err != nil {
					log.Printf("cleanup sweep error: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("cleanup sweep purged %d sessions", n)
				}
			}
		}
	}()
}

// StartReminderSweep nudges guardians of consents that have been pending for
// longer than minAge. Per-record send failures are logged and skipped; a
// flaky mail relay must not stall the remaining reminders.
func StartReminderSweep(ctx context.Context, consents PendingConsentLister, notifications *service.NotificationService, interval, minAge time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
				pending, err := consents.ListPendingOlderThan(tickCtx, time.Now().UTC().Add(-minAge))
				if err != nil {
					cancel()
					log.Printf("reminder sweep error: %v", err)
					continue
				}
				sent := 0
				for _, rec := range pending {
					if _, err := notifications.SendConsentReminder(tickCtx, rec); err != nil {
						log.Printf("reminder for consent %s failed: %v", rec.ID, err)
						continue
					}
					sent++
				}
				cancel()
				if sent > 0 {
					log.Printf("reminder sweep sent %d reminders", sent)
				}
			}
		}
	}()
}
