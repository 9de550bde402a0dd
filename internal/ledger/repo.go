package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"servicehours/internal/apperr"
	"servicehours/internal/store"
)

var entryColumns = []string{
	"id", "student_id", "title", "description", "hours", "date", "status",
	"is_punishment", "verifier_id", "attachments", "created_at", "updated_at",
}

// Repository persists ledger entries in Postgres.
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

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e        Entry
		verifier sql.NullString
	)
	err := row.Scan(&e.ID, &e.StudentID, &e.Title, &e.Description, &e.Hours, &e.Date, &e.Status,
		&e.IsPunishment, &verifier, pq.Array(&e.Attachments), &e.CreatedAt, &e.UpdatedAt)
	e.VerifierID = verifier.String
	return e, err
}

// Insert writes a new entry, filling id and timestamps when empty.
func (r *Repository) Insert(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.Attachments == nil {
		e.Attachments = []string{}
	}
	verifier := sql.NullString{String: e.VerifierID, Valid: e.VerifierID != ""}

	query, args, err := store.Builder.Insert("service_hours").
		Columns(entryColumns...).
		Values(e.ID, e.StudentID, e.Title, e.Description, e.Hours, e.Date, string(e.Status),
			e.IsPunishment, verifier, pq.Array(e.Attachments), e.CreatedAt, e.UpdatedAt).
		ToSql()
	if err != nil {
		return Entry{}, fmt.Errorf("build entry insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Get returns a single entry by id.
func (r *Repository) Get(ctx context.Context, id string) (Entry, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate returns the entry and locks its row until the surrounding
// transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (Entry, error) {
	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, lock bool) (Entry, error) {
	b := store.Builder.Select(entryColumns...).From("service_hours").Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return Entry{}, fmt.Errorf("build entry query: %w", err)
	}
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, apperr.NotFound("entry %s not found", id)
	}
	return e, err
}

// UpdateStatus sets the status, verifier and update time of an entry.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, verifierID string, at time.Time) error {
	query, args, err := store.Builder.Update("service_hours").
		Set("status", string(status)).
		Set("verifier_id", sql.NullString{String: verifierID, Valid: verifierID != ""}).
		Set("updated_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("entry %s not found", id)
	}
	return nil
}

// Delete removes an entry.
func (r *Repository) Delete(ctx context.Context, id string) error {
	query, args, err := store.Builder.Delete("service_hours").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build entry delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("entry %s not found", id)
	}
	return nil
}

// List returns up to limit entries of a student after the cursor, newest
// date first with id as tie-breaker.
func (r *Repository) List(ctx context.Context, studentID string, status Status, after *Cursor, limit int) ([]Entry, error) {
	query, args, err := listQuery(studentID, status, after, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entry list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func listQuery(studentID string, status Status, after *Cursor, limit int) sq.SelectBuilder {
	b := store.Builder.Select(entryColumns...).From("service_hours").
		Where(sq.Eq{"student_id": studentID}).
		OrderBy("date DESC", "id DESC").
		Limit(uint64(limit))
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	if after != nil {
		b = b.Where(sq.Expr("(date, id) < (?, ?)", after.Date, after.ID))
	}
	return b
}

// Summary sums a student's hours per status.
func (r *Repository) Summary(ctx context.Context, studentID string) (Summary, error) {
	query, args, err := store.Builder.Select("status", "COALESCE(SUM(hours), 0)").
		From("service_hours").
		Where(sq.Eq{"student_id": studentID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return Summary{}, fmt.Errorf("build summary: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	var sum Summary
	for rows.Next() {
		var (
			status Status
			hours  float64
		)
		if err := rows.Scan(&status, &hours); err != nil {
			return Summary{}, err
		}
		switch status {
		case StatusApproved:
			sum.Approved = hours
		case StatusPending:
			sum.Pending = hours
		case StatusRejected:
			sum.Rejected = hours
		}
	}
	return sum, rows.Err()
}

// ApprovedTotals returns the approved-hours sum per student that has any
// approved entry.
func (r *Repository) ApprovedTotals(ctx context.Context) (map[string]float64, error) {
	query, args, err := store.Builder.Select("student_id", "SUM(hours)").
		From("service_hours").
		Where(sq.Eq{"status": string(StatusApproved)}).
		GroupBy("student_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build approved totals: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var (
			id    string
			hours float64
		)
		if err := rows.Scan(&id, &hours); err != nil {
			return nil, err
		}
		totals[id] = hours
	}
	return totals, rows.Err()
}
