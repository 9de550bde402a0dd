package workflow

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/ledger"
	"servicehours/internal/live"
	"servicehours/internal/metrics"
	"servicehours/internal/preferences"
	"servicehours/internal/students"
)

const scheduleTimeout = 2 * time.Second

// Scheduler queues a consistency check of one student's total.
type Scheduler interface {
	Schedule(ctx context.Context, studentID, reason string) error
}

// Result is the state of the affected records after an action. Changed is
// false when the action was a no-op.
type Result struct {
	Entry   ledger.Entry    `json:"entry"`
	Student students.Record `json:"student"`
	Changed bool            `json:"changed"`
}

// Service applies administrator actions that move hours. Every action reads
// and writes the entry and the owner's total in one transaction.
type Service struct {
	store   Store
	notify  live.Publisher
	jobs    Scheduler
	metrics *metrics.Collectors
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, notify live.Publisher, jobs Scheduler, m *metrics.Collectors, logger *zap.Logger) *Service {
	if notify == nil {
		notify = live.Discard{}
	}
	return &Service{
		store:   store,
		notify:  notify,
		jobs:    jobs,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Approve moves a pending entry to approved and credits its hours to the
// owner. Approving an approved entry changes nothing.
func (s *Service) Approve(ctx context.Context, entryID, verifierID string) (Result, error) {
	if strings.TrimSpace(verifierID) == "" {
		return Result{}, apperr.Validation("verifier is required")
	}
	var res Result
	err := s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		e, rec, err := lockEntry(ctx, tx, entryID)
		if err != nil {
			return err
		}
		res = Result{Entry: e, Student: rec}
		switch e.Status {
		case ledger.StatusApproved:
			return nil
		case ledger.StatusRejected:
			return apperr.InvalidTransition("entry %s was already rejected", entryID)
		}

		now := s.now()
		if err := tx.Entries.UpdateStatus(ctx, e.ID, ledger.StatusApproved, verifierID, now); err != nil {
			return err
		}
		total, err := tx.Students.AddHours(ctx, rec.UID, e.Hours)
		if err != nil {
			return err
		}
		res.Entry.Status, res.Entry.VerifierID, res.Entry.UpdatedAt = ledger.StatusApproved, verifierID, now
		res.Student.TotalHours, res.Student.UpdatedAt = total, now
		res.Changed = true
		return nil
	})
	if err != nil {
		return Result{}, apperr.Write("approve entry", err)
	}
	if res.Changed {
		s.committed(ctx, "approve", res, res.Entry.Hours)
		s.logger.Info("entry approved",
			zap.String("entry_id", res.Entry.ID),
			zap.String("student_id", res.Student.UID),
			zap.String("verifier_id", verifierID),
			zap.Float64("hours", res.Entry.Hours),
			zap.Float64("total_hours", res.Student.TotalHours),
		)
	}
	return res, nil
}

// Reject moves a pending entry to rejected. It never changes hours.
func (s *Service) Reject(ctx context.Context, entryID, verifierID string) (Result, error) {
	if strings.TrimSpace(verifierID) == "" {
		return Result{}, apperr.Validation("verifier is required")
	}
	var res Result
	err := s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		e, rec, err := lockEntry(ctx, tx, entryID)
		if err != nil {
			return err
		}
		res = Result{Entry: e, Student: rec}
		switch e.Status {
		case ledger.StatusRejected:
			return nil
		case ledger.StatusApproved:
			return apperr.InvalidTransition("entry %s was already approved", entryID)
		}

		now := s.now()
		if err := tx.Entries.UpdateStatus(ctx, e.ID, ledger.StatusRejected, verifierID, now); err != nil {
			return err
		}
		res.Entry.Status, res.Entry.VerifierID, res.Entry.UpdatedAt = ledger.StatusRejected, verifierID, now
		res.Changed = true
		return nil
	})
	if err != nil {
		return Result{}, apperr.Write("reject entry", err)
	}
	if res.Changed {
		s.committed(ctx, "reject", res, 0)
		s.logger.Info("entry rejected",
			zap.String("entry_id", res.Entry.ID),
			zap.String("student_id", res.Student.UID),
			zap.String("verifier_id", verifierID),
		)
	}
	return res, nil
}

// AddPunishment records an approved punishment entry dated today and credits
// its hours to the student.
func (s *Service) AddPunishment(ctx context.Context, studentID string, hours float64, reason, adminID string) (Result, error) {
	reason = strings.TrimSpace(reason)
	switch {
	case math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0:
		return Result{}, apperr.Validation("punishment hours must be greater than zero")
	case reason == "":
		return Result{}, apperr.Validation("a reason is required")
	case strings.TrimSpace(adminID) == "":
		return Result{}, apperr.Validation("issuing administrator is required")
	}

	var res Result
	err := s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.Students.GetForUpdate(ctx, studentID)
		if err != nil {
			return err
		}
		now := s.now()
		y, m, d := now.Date()
		e, err := tx.Entries.Insert(ctx, ledger.Entry{
			StudentID:    studentID,
			Title:        ledger.PunishmentTitle,
			Description:  reason,
			Hours:        hours,
			Date:         time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			Status:       ledger.StatusApproved,
			IsPunishment: true,
			VerifierID:   adminID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		total, err := tx.Students.AddHours(ctx, studentID, hours)
		if err != nil {
			return err
		}
		rec.TotalHours, rec.UpdatedAt = total, now
		res = Result{Entry: e, Student: rec, Changed: true}
		return nil
	})
	if err != nil {
		return Result{}, apperr.Write("add punishment", err)
	}

	s.publish(ctx, live.NewEvent(live.EntryCreated, studentID, res.Entry))
	s.committed(ctx, "punish", res, hours)
	s.logger.Info("punishment recorded",
		zap.String("entry_id", res.Entry.ID),
		zap.String("student_id", studentID),
		zap.String("admin_id", adminID),
		zap.Float64("hours", hours),
	)
	return res, nil
}

// DeleteEntry removes an entry. An approved entry's hours are first taken
// back from the owner's total, which never drops below zero.
func (s *Service) DeleteEntry(ctx context.Context, entryID string) (Result, error) {
	var (
		res   Result
		delta float64
	)
	err := s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		e, rec, err := lockEntry(ctx, tx, entryID)
		if err != nil {
			return err
		}
		res = Result{Entry: e, Student: rec, Changed: true}
		if e.Status == ledger.StatusApproved && e.Hours > 0 {
			total, err := tx.Students.AddHours(ctx, rec.UID, -e.Hours)
			if err != nil {
				return err
			}
			delta = total - rec.TotalHours
			res.Student.TotalHours, res.Student.UpdatedAt = total, s.now()
		}
		return tx.Entries.Delete(ctx, e.ID)
	})
	if err != nil {
		return Result{}, apperr.Write("delete entry", err)
	}

	s.committed(ctx, "delete", res, delta)
	s.logger.Info("entry deleted",
		zap.String("entry_id", res.Entry.ID),
		zap.String("student_id", res.Student.UID),
		zap.String("status", string(res.Entry.Status)),
		zap.Float64("total_hours", res.Student.TotalHours),
	)
	return res, nil
}

// PreferenceResult is the state after a preference decision.
type PreferenceResult struct {
	Request preferences.Request `json:"request"`
	Student students.Record     `json:"student"`
}

// ApprovePreference applies the proposed class and location to the student
// and removes the request.
func (s *Service) ApprovePreference(ctx context.Context, requestID string) (PreferenceResult, error) {
	var res PreferenceResult
	err := s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.Preferences.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		rec, err := tx.Students.GetForUpdate(ctx, req.StudentID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.Students.ApplyPreferences(ctx, rec.UID, req.ProposedClass, req.ProposedLocation, false, now); err != nil {
			return err
		}
		if err := tx.Preferences.Delete(ctx, req.ID); err != nil {
			return err
		}
		rec.Class, rec.Location, rec.UpdatedAt = req.ProposedClass, req.ProposedLocation, now
		res = PreferenceResult{Request: req, Student: rec}
		return nil
	})
	if err != nil {
		return PreferenceResult{}, apperr.Write("approve preference change", err)
	}

	s.publish(ctx, live.NewEvent(live.StudentUpdated, res.Student.UID, res.Student))
	s.metrics.Transition("preference_approve")
	s.logger.Info("preference change approved",
		zap.String("request_id", requestID),
		zap.String("student_id", res.Student.UID),
		zap.String("class", res.Student.Class),
		zap.String("location", res.Student.Location),
	)
	return res, nil
}

// RejectPreference discards the request and leaves the student untouched.
func (s *Service) RejectPreference(ctx context.Context, requestID string) (PreferenceResult, error) {
	var res PreferenceResult
	err := s.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.Preferences.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		res.Request = req
		return tx.Preferences.Delete(ctx, req.ID)
	})
	if err != nil {
		return PreferenceResult{}, apperr.Write("reject preference change", err)
	}

	s.metrics.Transition("preference_reject")
	s.logger.Info("preference change rejected",
		zap.String("request_id", requestID),
		zap.String("student_id", res.Request.StudentID),
	)
	return res, nil
}

func lockEntry(ctx context.Context, tx Tx, entryID string) (ledger.Entry, students.Record, error) {
	e, err := tx.Entries.GetForUpdate(ctx, entryID)
	if err != nil {
		return ledger.Entry{}, students.Record{}, err
	}
	rec, err := tx.Students.GetForUpdate(ctx, e.StudentID)
	if err != nil {
		return ledger.Entry{}, students.Record{}, err
	}
	return e, rec, nil
}

// committed runs the side effects of a committed action. None of them can
// fail the action.
func (s *Service) committed(ctx context.Context, action string, res Result, delta float64) {
	s.metrics.Transition(action)
	s.metrics.HoursMoved(delta)

	kind := live.EntryUpdated
	if action == "delete" {
		kind = live.EntryDeleted
	}
	if action != "punish" {
		s.publish(ctx, live.NewEvent(kind, res.Student.UID, res.Entry))
	}
	if delta != 0 {
		s.publish(ctx, live.NewEvent(live.StudentUpdated, res.Student.UID, res.Student))
	}

	if s.jobs == nil || delta == 0 {
		return
	}
	// The write is committed; the check outlives the request but not by much.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scheduleTimeout)
	defer cancel()
	if err := s.jobs.Schedule(jctx, res.Student.UID, action); err != nil {
		s.logger.Warn("reconcile job not queued", zap.String("student_id", res.Student.UID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, evt live.Event) {
	if err := s.notify.Publish(ctx, evt); err != nil {
		s.logger.Warn("live publish failed", zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}
