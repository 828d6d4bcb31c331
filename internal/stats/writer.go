// Package stats implements the Stats Writer (C7): an idempotent-per-
// SessionId write path for win/loss and high-score updates, grounded in
// the teacher's currency.Service row-locked transaction pattern.
package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"connectline/internal/db"
	"connectline/internal/models"
)

// Writer records session outcomes exactly once per SessionId.
type Writer struct {
	db *db.DB
}

// New builds a Writer.
func New(database *db.DB) *Writer {
	return &Writer{db: database}
}

// RecordSessionOutcome folds one session's result into user_stats. A
// RecordedOutcome row keyed by sessionID makes re-invocation (e.g. a
// retried call after a transient failure) a no-op rather than a double
// count, per spec.md §4.7 and invariant 7.
func (w *Writer) RecordSessionOutcome(ctx context.Context, sessionID string, mode models.Mode, difficulty models.Difficulty, participants map[string]string, winnerUserID *string, score *int) error {
	if w == nil || w.db == nil {
		return nil
	}

	return w.db.Transaction(func(tx *gorm.DB) error {
		marker := models.RecordedOutcome{SessionID: sessionID, CreatedAt: time.Now()}
		if err := tx.Create(&marker).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicateKey(err) {
				return nil // already recorded; idempotent no-op
			}
			return fmt.Errorf("stats: insert outcome marker: %w", err)
		}

		for _, userID := range participants {
			if err := w.applyOneLocked(tx, userID, mode, winnerUserID, score); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) applyOneLocked(tx *gorm.DB, userID string, mode models.Mode, winnerUserID *string, score *int) error {
	var row models.UserStat
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&row).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.UserStat{UserID: userID}
	case err != nil:
		return fmt.Errorf("stats: lock user_stats for %s: %w", userID, err)
	}

	if mode == models.ModeSingle {
		if score != nil && *score > row.SinglePlayerHighScore {
			row.SinglePlayerHighScore = *score
		}
	} else {
		if winnerUserID != nil && *winnerUserID == userID {
			row.MultiplayerWins++
		} else {
			row.MultiplayerLosses++
		}
	}

	if err := tx.Save(&row).Error; err != nil {
		return fmt.Errorf("stats: save user_stats for %s: %w", userID, err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	// MySQL and SQLite report duplicate primary keys with driver-specific
	// text rather than a typed error; a substring check is the pragmatic
	// cross-driver signal the teacher's currency service also relies on.
	msg := err.Error()
	for _, marker := range []string{"Duplicate entry", "UNIQUE constraint failed", "duplicate key"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
