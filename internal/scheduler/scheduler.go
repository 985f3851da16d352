// Package scheduler runs the recurring billing loop: it re-charges stored
// tokens of expired subscriptions and revokes access that can no longer be
// paid for.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"podpiska-billing/internal/access"
	"podpiska-billing/internal/common/bepaid"
	"podpiska-billing/internal/common/clock"
	apperrors "podpiska-billing/internal/common/errors"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/common/metrics"
	"podpiska-billing/internal/journal"
	"podpiska-billing/internal/models"
	"podpiska-billing/internal/notify"
	"podpiska-billing/internal/settings"
	"podpiska-billing/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	outcomeRenewed   = "renewed"
	outcomeDeclined  = "declined"
	outcomeRevoked   = "revoked"
	outcomeExempt    = "exempt"
	outcomeConflict  = "conflict"
	outcomeError     = "error"
	cycleOK          = "ok"
	cycleFault       = "fault"
	cyclePanic       = "panic"
	cycleNotElected  = "not_elected"
	defaultInterval  = time.Hour
	defaultWorkers   = 1
	defaultChargeTag = "Subscription renewal"
)

// Gateway is the direct charge half of the payment gateway client.
type Gateway interface {
	ChargeToken(ctx context.Context, req bepaid.ChargeRequest) models.ChargeResult
}

// AdminChecker decides whether a user is exempt from billing.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// Recorder receives cycle telemetry. Implemented by observability.Observability.
type Recorder interface {
	RecordCycle(ctx context.Context, duration time.Duration, outcome string)
	RecordUserProcessed(ctx context.Context, outcome string)
}

type Config struct {
	Channel        string
	Interval       time.Duration
	MaxConcurrency int
	Description    string
}

type Dependencies struct {
	Store    store.Store
	Settings settings.Provider
	Gateway  Gateway
	Access   access.Synchronizer
	Admins   AdminChecker
	Notifier notify.Notifier
	Journal  journal.Journal
	Lease    Lease
	Recorder Recorder
	Clock    clock.Clock
	Logger   logger.Logger
}

// CycleReport summarizes one pass over the store.
type CycleReport struct {
	CycleID  string
	Elected  bool
	Due      int
	Lapsed   int
	Renewed  int
	Declined int
	Revoked  int
	Exempt   int
	Conflict int
	Errors   int
}

func (r *CycleReport) count(outcome string) {
	switch outcome {
	case outcomeRenewed:
		r.Renewed++
	case outcomeDeclined:
		r.Declined++
	case outcomeRevoked:
		r.Revoked++
	case outcomeExempt:
		r.Exempt++
	case outcomeConflict:
		r.Conflict++
	case outcomeError:
		r.Errors++
	}
}

type Scheduler struct {
	config   Config
	store    store.Store
	settings settings.Provider
	gateway  Gateway
	access   access.Synchronizer
	admins   AdminChecker
	notifier notify.Notifier
	journal  journal.Journal
	lease    Lease
	recorder Recorder
	clock    clock.Clock
	logger   logger.Logger
}

func New(deps Dependencies, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaultWorkers
	}
	if config.Description == "" {
		config.Description = defaultChargeTag
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Lease == nil {
		deps.Lease = LocalLease{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Scheduler{
		config:   config,
		store:    deps.Store,
		settings: deps.Settings,
		gateway:  deps.Gateway,
		access:   deps.Access,
		admins:   deps.Admins,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		lease:    deps.Lease,
		recorder: deps.Recorder,
		clock:    deps.Clock,
		logger:   deps.Logger.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

// Run executes a cycle, then sleeps the full interval, until ctx is done.
// A failed or panicking cycle never stops the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("recurring billing scheduler started", map[string]interface{}{
		"interval":       s.config.Interval.String(),
		"maxConcurrency": s.config.MaxConcurrency,
	})
	for {
		if ctx.Err() != nil {
			break
		}
		s.safeCycle(ctx)
		if err := s.clock.Sleep(ctx, s.config.Interval); err != nil {
			break
		}
	}
	s.logger.Info("recurring billing scheduler stopped", nil)
}

func (s *Scheduler) safeCycle(ctx context.Context) {
	start := s.clock.Now()
	outcome := cycleOK

	defer func() {
		if r := recover(); r != nil {
			outcome = cyclePanic
			s.logger.Error("billing cycle panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
		}
		s.observeCycle(ctx, s.clock.Now().Sub(start), outcome)
	}()

	report, err := s.RunCycle(ctx)
	switch {
	case err != nil:
		outcome = cycleFault
		s.logger.Error("billing cycle failed", map[string]interface{}{"error": err.Error()})
	case !report.Elected:
		outcome = cycleNotElected
	}
}

func (s *Scheduler) observeCycle(ctx context.Context, d time.Duration, outcome string) {
	metrics.SchedulerCycles.WithLabelValues(outcome).Inc()
	metrics.SchedulerCycleDuration.Observe(d.Seconds())
	if s.recorder != nil {
		s.recorder.RecordCycle(ctx, d, outcome)
	}
}

// RunCycle performs one charge pass and one lapse pass. An error means the
// cycle could not run as a whole; per-user failures are counted in the
// report and never abort the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{CycleID: uuid.NewString()}

	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("cycleId", report.CycleID))

	release, elected, err := s.lease.Acquire(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	if !elected {
		s.logger.Debug("another replica holds the billing lease", map[string]interface{}{"cycleId": report.CycleID})
		return report, nil
	}
	defer release()
	report.Elected = true

	log := s.logger.WithFields(map[string]interface{}{"cycleId": report.CycleID})

	pricing, err := s.settings.Pricing(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("failed to read pricing: %w", err)
	}

	now := s.clock.Now()

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	report.Due = len(due)
	s.each(ctx, due, report, func(ctx context.Context, sub *models.Subscription) string {
		return s.renew(ctx, log, report.CycleID, sub, pricing, now)
	})

	lapsed, err := s.store.ListExpiredWithoutToken(ctx, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}
	report.Lapsed = len(lapsed)
	s.each(ctx, lapsed, report, func(ctx context.Context, sub *models.Subscription) string {
		return s.expire(ctx, log, report.CycleID, sub)
	})

	if active, err := s.store.ListActive(ctx); err == nil {
		metrics.ActiveSubscriptions.Set(float64(len(active)))
	}

	log.Info("billing cycle finished", map[string]interface{}{
		"due":      report.Due,
		"lapsed":   report.Lapsed,
		"renewed":  report.Renewed,
		"declined": report.Declined,
		"revoked":  report.Revoked,
		"exempt":   report.Exempt,
		"conflict": report.Conflict,
		"errors":   report.Errors,
	})
	return report, nil
}

// each runs fn for every subscription with at most MaxConcurrency in
// flight. Work already started finishes even if ctx is cancelled; no new
// user is started after cancellation.
func (s *Scheduler) each(ctx context.Context, subs []*models.Subscription, report *CycleReport, fn func(context.Context, *models.Subscription) string) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, s.config.MaxConcurrency)
	)
	work := context.WithoutCancel(ctx)

	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(sub *models.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.isolate(work, sub, fn)

			mu.Lock()
			report.count(outcome)
			mu.Unlock()
			metrics.RenewalOutcomes.WithLabelValues(outcome).Inc()
			if s.recorder != nil {
				s.recorder.RecordUserProcessed(work, outcome)
			}
		}(sub)
	}
	wg.Wait()
}

func (s *Scheduler) isolate(ctx context.Context, sub *models.Subscription, fn func(context.Context, *models.Subscription) string) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = outcomeError
			s.logger.Error("panic while processing subscription", map[string]interface{}{
				"userId": sub.UserID,
				"panic":  fmt.Sprint(r),
			})
		}
	}()
	return fn(ctx, sub)
}

func (s *Scheduler) exempt(ctx context.Context, log logger.Logger, userID int64) (bool, error) {
	if s.admins == nil {
		return false, nil
	}
	isAdmin, err := s.admins.IsAdmin(ctx, userID)
	if err != nil {
		log.Error("failed to check admin status", map[string]interface{}{"error": err.Error()})
		return false, err
	}
	if isAdmin {
		log.Debug("admin is exempt from billing", nil)
	}
	return isAdmin, nil
}

func (s *Scheduler) renew(ctx context.Context, log logger.Logger, cycleID string, sub *models.Subscription, pricing models.Pricing, now time.Time) string {
	log = log.WithFields(map[string]interface{}{"userId": sub.UserID})

	if isAdmin, err := s.exempt(ctx, log, sub.UserID); err != nil {
		return outcomeError
	} else if isAdmin {
		return outcomeExempt
	}

	trackingID := models.NewTrackingID(sub.UserID, now).String()
	result := s.gateway.ChargeToken(ctx, bepaid.ChargeRequest{
		Amount:      pricing.Price,
		Currency:    pricing.Currency,
		Description: s.config.Description,
		TrackingID:  trackingID,
		Token:       sub.Token(),
		Email:       sub.Email,
	})

	event := journal.Event{
		UserID:        sub.UserID,
		TrackingID:    trackingID,
		TransactionID: result.TransactionID,
		Amount:        pricing.MinorAmount(),
		Currency:      pricing.Currency,
		CycleID:       cycleID,
	}

	if result.Success {
		grant := models.Grant(now.Add(pricing.Period()), models.KeepToken())
		grant.LastChargedAt = &now
		grant.Expect = models.ExpectObserved(sub)

		updated, err := s.store.Update(ctx, sub.UserID, grant)
		if errors.Is(err, store.ErrConflict) {
			log.Warn("subscription changed while charging; renewal not written", map[string]interface{}{"trackingId": trackingID})
			s.notifier.Alert(ctx, "Renewal conflict", fmt.Sprintf("user %d was charged (%s) but the subscription changed concurrently", sub.UserID, trackingID))
			return outcomeConflict
		}
		if err != nil {
			log.Error("charge succeeded but renewal could not be stored", map[string]interface{}{
				"trackingId": trackingID,
				"error":      err.Error(),
				"category":   apperrors.Category(err),
			})
			s.notifier.Alert(ctx, "Renewal not stored", fmt.Sprintf("user %d was charged (%s) but the renewal failed: %v", sub.UserID, trackingID, err))
			return outcomeError
		}

		event.Type = journal.EventChargeSucceeded
		s.journal.Record(ctx, event)
		log.Info("subscription renewed", map[string]interface{}{
			"trackingId": trackingID,
			"expiresAt":  updated.ExpiresAt,
		})
		s.notifier.RenewalSucceeded(ctx, sub.UserID, *updated.ExpiresAt)
		s.notifier.Receipt(ctx, sub.Email, pricing.Price.StringFixed(2), pricing.Currency, trackingID)
		return outcomeRenewed
	}

	revoke := models.Revoke()
	revoke.Expect = models.ExpectObserved(sub)
	if _, err := s.store.Update(ctx, sub.UserID, revoke); errors.Is(err, store.ErrConflict) {
		log.Info("subscription changed while charging; decline not applied", map[string]interface{}{"trackingId": trackingID})
		return outcomeConflict
	} else if err != nil {
		log.Error("failed to revoke after declined charge", map[string]interface{}{
			"error":    err.Error(),
			"category": apperrors.Category(err),
		})
		return outcomeError
	}

	declined := apperrors.NewChargeDeclinedError(result.Reason)
	event.Type = journal.EventChargeDeclined
	event.Reason = result.Reason
	s.journal.Record(ctx, event)
	log.Info("renewal declined, access revoked", map[string]interface{}{
		"trackingId": trackingID,
		"reason":     result.Reason,
		"code":       string(declined.Code),
	})

	s.notifier.RenewalFailed(ctx, sub.UserID, result.Reason)
	s.revokeMembership(ctx, log, sub.UserID)
	return outcomeDeclined
}

func (s *Scheduler) expire(ctx context.Context, log logger.Logger, cycleID string, sub *models.Subscription) string {
	log = log.WithFields(map[string]interface{}{"userId": sub.UserID})

	if isAdmin, err := s.exempt(ctx, log, sub.UserID); err != nil {
		return outcomeError
	} else if isAdmin {
		return outcomeExempt
	}

	revoke := models.Revoke()
	revoke.Expect = models.ExpectObserved(sub)
	if _, err := s.store.Update(ctx, sub.UserID, revoke); errors.Is(err, store.ErrConflict) {
		return outcomeConflict
	} else if err != nil {
		log.Error("failed to revoke lapsed subscription", map[string]interface{}{
			"error":    err.Error(),
			"category": apperrors.Category(err),
		})
		return outcomeError
	}

	s.journal.Record(ctx, journal.Event{
		Type:    journal.EventAccessRevoked,
		UserID:  sub.UserID,
		CycleID: cycleID,
		Reason:  "expired without charge token (" + sub.TokenState().String() + ")",
	})
	log.Info("lapsed subscription revoked", map[string]interface{}{"token": sub.TokenState().String()})

	s.notifier.AccessExpired(ctx, sub.UserID)
	s.revokeMembership(ctx, log, sub.UserID)
	return outcomeRevoked
}

// revokeMembership failures are logged only; state is already committed and
// the next cycle does not retry removal.
func (s *Scheduler) revokeMembership(ctx context.Context, log logger.Logger, userID int64) {
	if err := s.access.RevokeMembership(ctx, s.config.Channel, userID); err != nil {
		log.Error("failed to remove user from channel", map[string]interface{}{"error": err.Error()})
	}
}
