package workflow

import (
	"context"
	"database/sql"
	"time"

	"servicehours/internal/ledger"
	"servicehours/internal/preferences"
	"servicehours/internal/store"
	"servicehours/internal/students"
)

// EntryStore is the ledger access the workflow needs inside a transaction.
type EntryStore interface {
	Insert(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	GetForUpdate(ctx context.Context, id string) (ledger.Entry, error)
	UpdateStatus(ctx context.Context, id string, status ledger.Status, verifierID string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// StudentStore is the record access the workflow needs inside a transaction.
type StudentStore interface {
	GetForUpdate(ctx context.Context, uid string) (students.Record, error)
	AddHours(ctx context.Context, uid string, delta float64) (float64, error)
	ApplyPreferences(ctx context.Context, uid, class, location string, completeSetup bool, at time.Time) error
}

// PreferenceStore is the queue access the workflow needs inside a transaction.
type PreferenceStore interface {
	GetForUpdate(ctx context.Context, id string) (preferences.Request, error)
	Delete(ctx context.Context, id string) error
}

// Tx exposes the repositories bound to one transaction.
type Tx struct {
	Entries     EntryStore
	Students    StudentStore
	Preferences PreferenceStore
}

// Store runs fn atomically: either every write fn makes is kept or none is.
type Store interface {
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SQLStore runs workflow transactions on Postgres.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(ctx, Tx{
			Entries:     ledger.NewRepository(tx),
			Students:    students.NewRepository(tx),
			Preferences: preferences.NewRepository(tx),
		})
	})
}
