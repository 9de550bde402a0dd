package preferences

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"servicehours/internal/apperr"
	"servicehours/internal/store"
)

const uniqueViolation = "23505"

var requestColumns = []string{
	"id", "student_id", "student_name", "student_email", "roll_number",
	"proposed_class", "proposed_location", "current_class", "current_location", "created_at",
}

// Repository persists preference change requests in Postgres.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo over a connection or a transaction.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var r Request
	err := row.Scan(&r.ID, &r.StudentID, &r.StudentName, &r.StudentEmail, &r.RollNumber,
		&r.ProposedClass, &r.ProposedLocation, &r.CurrentClass, &r.CurrentLocation, &r.CreatedAt)
	return r, err
}

// Create stores a new request. A student with a pending request gets a conflict.
func (r *Repository) Create(ctx context.Context, req Request) (Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	query, args, err := store.Builder.Insert("preference_changes").
		Columns(requestColumns...).
		Values(req.ID, req.StudentID, req.StudentName, req.StudentEmail, req.RollNumber,
			req.ProposedClass, req.ProposedLocation, req.CurrentClass, req.CurrentLocation, req.CreatedAt).
		ToSql()
	if err != nil {
		return Request{}, fmt.Errorf("build request insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Request{}, apperr.Conflict("a preference change is already pending")
		}
		return Request{}, err
	}
	return req, nil
}

// Get returns one request.
func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	return r.get(ctx, sq.Eq{"id": id}, false, "request "+id)
}

// GetForUpdate returns one request and locks it for the surrounding transaction.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (Request, error) {
	return r.get(ctx, sq.Eq{"id": id}, true, "request "+id)
}

// GetByStudent returns the pending request of a student.
func (r *Repository) GetByStudent(ctx context.Context, studentID string) (Request, error) {
	return r.get(ctx, sq.Eq{"student_id": studentID}, false, "request for student "+studentID)
}

func (r *Repository) get(ctx context.Context, where sq.Eq, lock bool, what string) (Request, error) {
	b := store.Builder.Select(requestColumns...).From("preference_changes").Where(where)
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return Request{}, fmt.Errorf("build request query: %w", err)
	}
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, apperr.NotFound("%s not found", what)
	}
	return req, err
}

// List returns every pending request, oldest first.
func (r *Repository) List(ctx context.Context) ([]Request, error) {
	query, args, err := store.Builder.Select(requestColumns...).
		From("preference_changes").
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build request list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// Delete removes a request.
func (r *Repository) Delete(ctx context.Context, id string) error {
	query, args, err := store.Builder.Delete("preference_changes").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build request delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("request %s not found", id)
	}
	return nil
}
