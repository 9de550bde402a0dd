package students

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"servicehours/internal/apperr"
	"servicehours/internal/store"
)

var recordColumns = []string{
	"uid", "name", "email", "photo_url", "class", "location", "roll_number",
	"total_hours", "required_hours", "has_completed_setup", "is_admin", "created_at", "updated_at",
}

// Repository persists student records in Postgres.
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

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	err := row.Scan(&r.UID, &r.Name, &r.Email, &r.PhotoURL, &r.Class, &r.Location, &r.RollNumber,
		&r.TotalHours, &r.RequiredHours, &r.HasCompletedSetup, &r.IsAdmin, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// Get returns the record for uid.
func (r *Repository) Get(ctx context.Context, uid string) (Record, error) {
	return r.get(ctx, uid, false)
}

// GetForUpdate returns the record for uid and locks its row until the
// surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, uid string) (Record, error) {
	return r.get(ctx, uid, true)
}

func (r *Repository) get(ctx context.Context, uid string, lock bool) (Record, error) {
	b := store.Builder.Select(recordColumns...).From("students").Where(sq.Eq{"uid": uid})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("build student query: %w", err)
	}
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.NotFound("student %s not found", uid)
	}
	return rec, err
}

// Create inserts rec unless a record with the same uid exists. It reports
// whether a row was inserted.
func (r *Repository) Create(ctx context.Context, rec Record) (bool, error) {
	query, args, err := store.Builder.Insert("students").
		Columns(recordColumns...).
		Values(rec.UID, rec.Name, rec.Email, rec.PhotoURL, rec.Class, rec.Location, rec.RollNumber,
			rec.TotalHours, rec.RequiredHours, rec.HasCompletedSetup, rec.IsAdmin, rec.CreatedAt, rec.UpdatedAt).
		Suffix("ON CONFLICT (uid) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build student insert: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AddHours adds delta to the student's total, flooring the result at zero,
// and returns the new total.
func (r *Repository) AddHours(ctx context.Context, uid string, delta float64) (float64, error) {
	query, args, err := addHoursQuery(uid, delta).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build hours update: %w", err)
	}
	var total float64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("student %s not found", uid)
	}
	return total, err
}

func addHoursQuery(uid string, delta float64) sq.UpdateBuilder {
	return store.Builder.Update("students").
		Set("total_hours", sq.Expr("GREATEST(0, total_hours + ?)", delta)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"uid": uid}).
		Suffix("RETURNING total_hours")
}

// ResetRequiredHours moves every record whose requirement differs from hours
// onto hours and reports how many changed.
func (r *Repository) ResetRequiredHours(ctx context.Context, hours float64) (int64, error) {
	query, args, err := resetRequiredQuery(hours).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build required hours reset: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func resetRequiredQuery(hours float64) sq.UpdateBuilder {
	return store.Builder.Update("students").
		Set("required_hours", hours).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.NotEq{"required_hours": hours})
}

// SetTotalHours overwrites the student's total.
func (r *Repository) SetTotalHours(ctx context.Context, uid string, total float64) error {
	return r.update(ctx, uid, map[string]any{"total_hours": total})
}

// ApplyPreferences stores class and location, optionally marking setup done.
func (r *Repository) ApplyPreferences(ctx context.Context, uid, class, location string, completeSetup bool, at time.Time) error {
	fields := map[string]any{"class": class, "location": location, "updated_at": at}
	if completeSetup {
		fields["has_completed_setup"] = true
	}
	return r.update(ctx, uid, fields)
}

func (r *Repository) update(ctx context.Context, uid string, fields map[string]any) error {
	b := store.Builder.Update("students").SetMap(fields).Where(sq.Eq{"uid": uid})
	if _, ok := fields["updated_at"]; !ok {
		b = b.Set("updated_at", sq.Expr("NOW()"))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build student update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("student %s not found", uid)
	}
	return nil
}

// List returns non-admin students matching search on name, roll number,
// class or email, ordered by class then roll number.
func (r *Repository) List(ctx context.Context, search string) ([]Record, error) {
	return r.list(ctx, listQuery(search, false))
}

// All returns every record, administrators included.
func (r *Repository) All(ctx context.Context) ([]Record, error) {
	return r.list(ctx, listQuery("", true))
}

func listQuery(search string, withAdmins bool) sq.SelectBuilder {
	b := store.Builder.Select(recordColumns...).From("students").
		OrderBy("class", "roll_number")
	if !withAdmins {
		b = b.Where(sq.Eq{"is_admin": false})
	}
	if term := strings.TrimSpace(search); term != "" {
		like := "%" + term + "%"
		b = b.Where(sq.Or{
			sq.ILike{"name": like},
			sq.ILike{"roll_number": like},
			sq.ILike{"class": like},
			sq.ILike{"email": like},
		})
	}
	return b
}

func (r *Repository) list(ctx context.Context, b sq.SelectBuilder) ([]Record, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build student list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
