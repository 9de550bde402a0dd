package ledger

import (
	"context"
	"math"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/live"
)

// MaxPageSize caps a single listing.
const MaxPageSize = 100

// Store is the persistence the ledger service needs.
type Store interface {
	Insert(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context, studentID string, status Status, after *Cursor, limit int) ([]Entry, error)
	Summary(ctx context.Context, studentID string) (Summary, error)
}

// Service records student submissions and serves ledger reads.
// Status transitions and deletion belong to the approval workflow.
type Service struct {
	store    Store
	pageSize int
	notify   live.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, pageSize int, notify live.Publisher, logger *zap.Logger) *Service {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = 10
	}
	if notify == nil {
		notify = live.Discard{}
	}
	return &Service{
		store:    store,
		pageSize: pageSize,
		notify:   notify,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a student's activity as pending. It never touches the
// student's hour total.
func (s *Service) Submit(ctx context.Context, studentID string, in SubmitInput) (Entry, error) {
	if err := validateSubmit(in); err != nil {
		return Entry{}, err
	}

	now := s.now()
	entry, err := s.store.Insert(ctx, Entry{
		StudentID:    studentID,
		Title:        strings.TrimSpace(in.Title),
		Description:  strings.TrimSpace(in.Description),
		Hours:        in.Hours,
		Date:         truncateDay(in.Date),
		Status:       StatusPending,
		IsPunishment: false,
		Attachments:  in.Attachments,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Entry{}, apperr.Write("save activity", err)
	}

	s.logger.Info("activity submitted",
		zap.String("entry_id", entry.ID),
		zap.String("student_id", studentID),
		zap.Float64("hours", entry.Hours),
	)
	if err := s.notify.Publish(ctx, live.NewEvent(live.EntryCreated, studentID, entry)); err != nil {
		s.logger.Warn("live publish failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
	return entry, nil
}

func validateSubmit(in SubmitInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperr.Validation("title is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return apperr.Validation("description is required")
	}
	if math.IsNaN(in.Hours) || math.IsInf(in.Hours, 0) || in.Hours < 0 {
		return apperr.Validation("hours must be a non-negative number")
	}
	if in.Date.IsZero() {
		return apperr.Validation("date is required")
	}
	if len(in.Attachments) > MaxAttachments {
		return apperr.Validation("at most %d attachments are allowed", MaxAttachments)
	}
	for _, a := range in.Attachments {
		u, err := url.Parse(a)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return apperr.Validation("attachment %q is not a URL", a)
		}
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, id string) (Entry, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of a student's entries, newest date first.
func (s *Service) List(ctx context.Context, studentID string, f Filter) (Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var after *Cursor
	if f.Cursor != "" {
		c, err := DecodeCursor(f.Cursor)
		if err != nil {
			return Page{}, err
		}
		after = &c
	}

	entries, err := s.store.List(ctx, studentID, f.Status, after, limit+1)
	if err != nil {
		return Page{}, err
	}

	page := Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.HasMore = true
		page.NextCursor = EncodeCursor(page.Entries[limit-1])
	}
	if page.Entries == nil {
		page.Entries = []Entry{}
	}
	return page, nil
}

// Summary returns the student's hours per status.
func (s *Service) Summary(ctx context.Context, studentID string) (Summary, error) {
	return s.store.Summary(ctx, studentID)
}
