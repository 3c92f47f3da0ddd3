package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ayusman/palmreader/internal/session"
)

// ErrNotFound is returned when a requested reading does not exist.
var ErrNotFound = errors.New("not found")

// Status is the outcome of a reading.
type Status string

const (
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Reading is one finished session.
type Reading struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	Status     Status    `db:"status" json:"status"`
	Prediction string    `db:"prediction" json:"prediction,omitempty"`
	Summary    string    `db:"summary" json:"summary,omitempty"`
	ImageURL   string    `db:"image_url" json:"image_url,omitempty"`
	Error      string    `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ReadingRepository stores and lists readings.
type ReadingRepository struct {
	db *sqlx.DB
}

// Readings returns the reading repository for this store.
func (s *Store) Readings() *ReadingRepository {
	return &ReadingRepository{db: s.db}
}

// Create inserts r, filling in ID and CreatedAt when empty.
func (r *ReadingRepository) Create(ctx context.Context, rd *Reading) error {
	if rd.ID == "" {
		rd.ID = uuid.NewString()
	}
	if rd.CreatedAt.IsZero() {
		rd.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO readings (id, session_id, status, prediction, summary, image_url, error, created_at)
		 VALUES (:id, :session_id, :status, :prediction, :summary, :image_url, :error, :created_at)`,
		rd,
	)
	return err
}

// Record stores a finished view. Views that have not finished are rejected.
func (r *ReadingRepository) Record(ctx context.Context, v session.View) error {
	var status Status
	switch v.State {
	case session.StateDone:
		status = StatusDone
	case session.StateError:
		status = StatusError
	default:
		return fmt.Errorf("cannot record session in state %q", v.State)
	}

	return r.Create(ctx, &Reading{
		SessionID:  v.SessionID,
		Status:     status,
		Prediction: v.Prediction,
		Summary:    v.Summary,
		ImageURL:   v.ImageURL,
		Error:      v.Error,
	})
}

// GetByID retrieves a reading by its ID.
func (r *ReadingRepository) GetByID(ctx context.Context, id string) (*Reading, error) {
	rd := &Reading{}
	err := r.db.GetContext(ctx, rd, `SELECT * FROM readings WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rd, nil
}

// List returns up to limit readings, newest first.
func (r *ReadingRepository) List(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	readings := []Reading{}
	err := r.db.SelectContext(ctx, &readings,
		`SELECT * FROM readings ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return readings, nil
}

// Latest returns the newest successful reading.
func (r *ReadingRepository) Latest(ctx context.Context) (*Reading, error) {
	rd := &Reading{}
	err := r.db.GetContext(ctx, rd,
		`SELECT * FROM readings WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, StatusDone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rd, nil
}

// Delete removes a reading by its ID.
func (r *ReadingRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
