package reconcile

import (
	"context"
	"database/sql"

	"servicehours/internal/ledger"
	"servicehours/internal/store"
	"servicehours/internal/students"
)

// Store reads totals and approved ledger sums, and overwrites a total.
type Store interface {
	Students(ctx context.Context) ([]students.Record, error)
	Student(ctx context.Context, uid string) (students.Record, error)
	ApprovedHours(ctx context.Context, uid string) (float64, error)
	ApprovedTotals(ctx context.Context) (map[string]float64, error)
	// Fix recomputes the approved sum and stores it as the total while the
	// student row is locked. It returns the report taken under the lock.
	Fix(ctx context.Context, uid string) (Report, error)
}

// SQLStore implements Store on the student and ledger repositories.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Students(ctx context.Context) ([]students.Record, error) {
	return students.NewRepository(s.db).All(ctx)
}

func (s *SQLStore) Student(ctx context.Context, uid string) (students.Record, error) {
	return students.NewRepository(s.db).Get(ctx, uid)
}

func (s *SQLStore) ApprovedHours(ctx context.Context, uid string) (float64, error) {
	sum, err := ledger.NewRepository(s.db).Summary(ctx, uid)
	return sum.Approved, err
}

func (s *SQLStore) ApprovedTotals(ctx context.Context) (map[string]float64, error) {
	return ledger.NewRepository(s.db).ApprovedTotals(ctx)
}

func (s *SQLStore) Fix(ctx context.Context, uid string) (Report, error) {
	var rep Report
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		recs := students.NewRepository(tx)
		rec, err := recs.GetForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		sum, err := ledger.NewRepository(tx).Summary(ctx, uid)
		if err != nil {
			return err
		}
		rep = newReport(rec, sum.Approved)
		if rep.Consistent {
			return nil
		}
		return recs.SetTotalHours(ctx, uid, sum.Approved)
	})
	return rep, err
}
