package preferences

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/students"
)

// Store is the persistence the queue needs.
type Store interface {
	Create(ctx context.Context, req Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	GetByStudent(ctx context.Context, studentID string) (Request, error)
	List(ctx context.Context) ([]Request, error)
}

// Records looks up the student a request is made for.
type Records interface {
	Get(ctx context.Context, uid string) (students.Record, error)
}

// Service queues preference changes for administrator review. Approving and
// rejecting are part of the approval workflow.
type Service struct {
	store   Store
	records Records
	catalog students.Catalog
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, records Records, catalog students.Catalog, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		records: records,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit queues a change of class and location for studentID. The request
// snapshots the current values so the reviewer sees both sides.
func (s *Service) Submit(ctx context.Context, studentID, class, location string) (Request, error) {
	if err := s.catalog.Validate(class, location); err != nil {
		return Request{}, err
	}
	rec, err := s.records.Get(ctx, studentID)
	if err != nil {
		return Request{}, err
	}
	if !rec.HasCompletedSetup {
		return Request{}, apperr.Conflict("complete first-time setup before requesting changes")
	}
	if rec.Class == class && rec.Location == location {
		return Request{}, apperr.Validation("requested class and location are already set")
	}

	if _, err := s.store.GetByStudent(ctx, studentID); err == nil {
		return Request{}, apperr.Conflict("a preference change is already pending")
	} else if !errors.Is(err, apperr.ErrRecordNotFound) {
		return Request{}, err
	}

	req, err := s.store.Create(ctx, Request{
		StudentID:        studentID,
		StudentName:      rec.Name,
		StudentEmail:     rec.Email,
		RollNumber:       rec.RollNumber,
		ProposedClass:    class,
		ProposedLocation: location,
		CurrentClass:     rec.Class,
		CurrentLocation:  rec.Location,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return Request{}, apperr.Write("queue preference change", err)
	}
	s.logger.Info("preference change queued",
		zap.String("request_id", req.ID),
		zap.String("student_id", studentID),
		zap.String("class", class),
		zap.String("location", location),
	)
	return req, nil
}

// Pending returns the student's queued request, if any.
func (s *Service) Pending(ctx context.Context, studentID string) (Request, error) {
	return s.store.GetByStudent(ctx, studentID)
}

// List returns the queue, oldest first.
func (s *Service) List(ctx context.Context) ([]Request, error) {
	reqs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []Request{}
	}
	return reqs, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.store.Get(ctx, id)
}
