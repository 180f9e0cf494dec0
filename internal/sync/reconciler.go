package sync

import (
	"database/sql"
	"errors"
	"time"

	"github.com/barterhub/barterd/internal/store"
)

// Reconciler persists poll checkpoints so a restarted daemon knows how far
// each conversation's history has been fetched.
type Reconciler struct {
	db *store.DB
}

// NewReconciler creates a reconciler.
func NewReconciler(db *store.DB) *Reconciler {
	return &Reconciler{db: db}
}

// UpdateCheckpoint stores a checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a checkpoint value; a missing key returns "".
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
