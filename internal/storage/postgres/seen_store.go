package postgres

import (
	"context"
	"fmt"
	"time"
)

const (
	loadSeenSQL = `SELECT content_id FROM seen_content
WHERE schedule_id = $1 ORDER BY seen_at DESC, content_id LIMIT $2`
	addSeenSQL = `INSERT INTO seen_content (schedule_id, content_id, seen_at)
SELECT $1, id, $3 FROM unnest($2::text[]) AS id
ON CONFLICT (schedule_id, content_id) DO NOTHING`
	deleteSeenSQL = `DELETE FROM seen_content WHERE seen_at < $1`
)

// SeenStore persists the content ids each schedule has already reported.
type SeenStore struct {
	db DB
}

// NewSeenStore returns a SeenStore backed by db.
func NewSeenStore(db DB) *SeenStore {
	return &SeenStore{db: db}
}

// Load returns up to limit ids for scheduleID, most recently seen first.
func (s *SeenStore) Load(ctx context.Context, scheduleID string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, loadSeenSQL, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query seen content for %s: %w", scheduleID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen content: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen content: %w", err)
	}
	return out, nil
}

// Add records ids for scheduleID. Ids already stored keep their first time.
func (s *SeenStore) Add(ctx context.Context, scheduleID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, addSeenSQL, scheduleID, ids, at); err != nil {
		return fmt.Errorf("add seen content for %s: %w", scheduleID, err)
	}
	return nil
}

// DeleteBefore forgets ids first seen before before.
func (s *SeenStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteSeenSQL, before)
	if err != nil {
		return 0, fmt.Errorf("prune seen content: %w", err)
	}
	return tag.RowsAffected(), nil
}
