package students

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/live"
)

// Store is the persistence the service needs.
type Store interface {
	Get(ctx context.Context, uid string) (Record, error)
	Create(ctx context.Context, rec Record) (bool, error)
	ApplyPreferences(ctx context.Context, uid, class, location string, completeSetup bool, at time.Time) error
	List(ctx context.Context, search string) ([]Record, error)
	ResetRequiredHours(ctx context.Context, hours float64) (int64, error)
}

// Service manages student records outside the approval workflow.
type Service struct {
	store         Store
	catalog       Catalog
	requiredHours float64
	notify        live.Publisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, catalog Catalog, requiredHours float64, notify live.Publisher, logger *zap.Logger) *Service {
	if notify == nil {
		notify = live.Discard{}
	}
	return &Service{
		store:         store,
		catalog:       catalog,
		requiredHours: requiredHours,
		notify:        notify,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Catalog() Catalog { return s.catalog }

// Get returns the record for uid.
func (s *Service) Get(ctx context.Context, uid string) (Record, error) {
	return s.store.Get(ctx, uid)
}

// SyncRequiredHours moves existing records onto the configured requirement.
// It runs once at startup so a changed requirement reaches old records too.
func (s *Service) SyncRequiredHours(ctx context.Context) error {
	n, err := s.store.ResetRequiredHours(ctx, s.requiredHours)
	if err != nil {
		return apperr.Write("sync required hours", err)
	}
	if n > 0 {
		s.logger.Info("required hours synced",
			zap.Float64("required_hours", s.requiredHours),
			zap.Int64("records", n),
		)
	}
	return nil
}

// Provision returns the record for the profile, creating the default record
// on first sight of the uid. created reports whether a record was inserted.
func (s *Service) Provision(ctx context.Context, p Profile, isAdmin bool) (rec Record, created bool, err error) {
	if strings.TrimSpace(p.UID) == "" || strings.TrimSpace(p.Email) == "" {
		return Record{}, false, apperr.Validation("uid and email are required")
	}

	created, err = s.store.Create(ctx, NewRecord(p, isAdmin, s.requiredHours, s.now()))
	if err != nil {
		return Record{}, false, apperr.Write("create student record", err)
	}
	rec, err = s.store.Get(ctx, p.UID)
	if err != nil {
		return Record{}, false, err
	}
	if created {
		s.logger.Info("student record created",
			zap.String("uid", rec.UID),
			zap.String("email", rec.Email),
			zap.Bool("admin", rec.IsAdmin),
		)
	}
	return rec, created, nil
}

// CompleteSetup applies the first-time class and location choice. Later
// changes go through a preference change request.
func (s *Service) CompleteSetup(ctx context.Context, uid, class, location string) (Record, error) {
	if err := s.catalog.Validate(class, location); err != nil {
		return Record{}, err
	}
	rec, err := s.store.Get(ctx, uid)
	if err != nil {
		return Record{}, err
	}
	if rec.HasCompletedSetup {
		return Record{}, apperr.Conflict("setup already completed; submit a preference change instead")
	}

	if err := s.store.ApplyPreferences(ctx, uid, class, location, true, s.now()); err != nil {
		return Record{}, apperr.Write("save preferences", err)
	}
	rec, err = s.store.Get(ctx, uid)
	if err != nil {
		return Record{}, err
	}
	s.publish(ctx, live.NewEvent(live.StudentUpdated, uid, rec))
	return rec, nil
}

// List returns the students an administrator manages.
func (s *Service) List(ctx context.Context, search string) ([]Record, error) {
	return s.store.List(ctx, search)
}

func (s *Service) publish(ctx context.Context, evt live.Event) {
	if err := s.notify.Publish(ctx, evt); err != nil {
		s.logger.Warn("live publish failed", zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}
