package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/metrics"
	"servicehours/internal/queue"
	"servicehours/internal/students"
)

const tolerance = 1e-9

// Report compares a student's stored total with the sum of approved entries.
type Report struct {
	StudentID  string  `json:"student_id"`
	Recorded   float64 `json:"recorded"`
	Computed   float64 `json:"computed"`
	Delta      float64 `json:"delta"`
	Consistent bool    `json:"consistent"`
	Repaired   bool    `json:"repaired"`
}

func newReport(rec students.Record, approved float64) Report {
	delta := rec.TotalHours - approved
	return Report{
		StudentID:  rec.UID,
		Recorded:   rec.TotalHours,
		Computed:   approved,
		Delta:      delta,
		Consistent: math.Abs(delta) <= tolerance,
	}
}

// MismatchError carries the report of an inconsistent student.
type MismatchError struct {
	Report Report
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("student %s: total %.2f, approved entries %.2f",
		e.Report.StudentID, e.Report.Recorded, e.Report.Computed)
}

func (e *MismatchError) Unwrap() error { return apperr.ErrPartialReconciliation }

// SweepResult summarises a pass over every student.
type SweepResult struct {
	Checked      int      `json:"checked"`
	Inconsistent []Report `json:"inconsistent"`
	Repaired     int      `json:"repaired"`
}

// Service detects and repairs drift between totals and the ledger.
type Service struct {
	store      Store
	autoRepair bool
	metrics    *metrics.Collectors
	logger     *zap.Logger
}

func NewService(store Store, autoRepair bool, m *metrics.Collectors, logger *zap.Logger) *Service {
	return &Service{store: store, autoRepair: autoRepair, metrics: m, logger: logger}
}

// Check compares one student's total with the approved sum.
func (s *Service) Check(ctx context.Context, uid string) (Report, error) {
	rec, err := s.store.Student(ctx, uid)
	if err != nil {
		return Report{}, err
	}
	approved, err := s.store.ApprovedHours(ctx, uid)
	if err != nil {
		return Report{}, err
	}
	return newReport(rec, approved), nil
}

// Verify is Check that returns a *MismatchError when the student drifted.
func (s *Service) Verify(ctx context.Context, uid string) (Report, error) {
	rep, err := s.Check(ctx, uid)
	if err != nil {
		return Report{}, err
	}
	if !rep.Consistent {
		return rep, &MismatchError{Report: rep}
	}
	return rep, nil
}

// Repair overwrites the student's total with the approved sum.
func (s *Service) Repair(ctx context.Context, uid string) (Report, error) {
	rep, err := s.store.Fix(ctx, uid)
	if err != nil {
		return Report{}, apperr.Write("repair hour total", err)
	}
	if !rep.Consistent {
		rep.Repaired = true
		s.logger.Warn("hour total repaired",
			zap.String("student_id", uid),
			zap.Float64("recorded", rep.Recorded),
			zap.Float64("computed", rep.Computed),
		)
	}
	return rep, nil
}

// Sweep checks every student, repairing drift when repair is set.
func (s *Service) Sweep(ctx context.Context, repair bool) (SweepResult, error) {
	res, err := s.sweep(ctx, repair)
	s.metrics.Reconciled("sweep", len(res.Inconsistent), err)
	return res, err
}

func (s *Service) sweep(ctx context.Context, repair bool) (SweepResult, error) {
	recs, err := s.store.Students(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	totals, err := s.store.ApprovedTotals(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Checked: len(recs), Inconsistent: []Report{}}
	for _, rec := range recs {
		rep := newReport(rec, totals[rec.UID])
		if rep.Consistent {
			continue
		}
		if repair {
			fixed, err := s.Repair(ctx, rec.UID)
			if err != nil {
				return res, err
			}
			if fixed.Repaired {
				res.Repaired++
			}
			rep = fixed
		}
		res.Inconsistent = append(res.Inconsistent, rep)
	}

	if len(res.Inconsistent) > 0 {
		s.logger.Warn("reconciliation found drift",
			zap.Int("checked", res.Checked),
			zap.Int("inconsistent", len(res.Inconsistent)),
			zap.Int("repaired", res.Repaired),
		)
	} else {
		s.logger.Info("reconciliation clean", zap.Int("checked", res.Checked))
	}
	return res, nil
}

// HandleJob processes one queued check, repairing when auto repair is on.
func (s *Service) HandleJob(ctx context.Context, job queue.ReconcileJob) (Report, error) {
	var (
		rep Report
		err error
	)
	if s.autoRepair {
		rep, err = s.Repair(ctx, job.StudentID)
	} else {
		rep, err = s.Verify(ctx, job.StudentID)
	}
	drifted, runErr := 0, err
	var mismatch *MismatchError
	if errors.As(err, &mismatch) {
		drifted, runErr = 1, nil
	} else if rep.Repaired {
		drifted = 1
	}
	s.metrics.Reconciled("job", drifted, runErr)
	return rep, err
}
