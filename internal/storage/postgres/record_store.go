package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

const (
	appendRecordSQL = `INSERT INTO effectiveness_records
    (id, schedule_id, ts, quota_spent, content_found, slot, outcome, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`
	loadRecordsSQL = `SELECT id, schedule_id, ts, quota_spent, content_found, slot, outcome, published_at
FROM effectiveness_records WHERE ts >= $1 ORDER BY ts, id`
	deleteRecordsSQL = `DELETE FROM effectiveness_records WHERE ts < $1`
)

// RecordStore persists effectiveness history.
type RecordStore struct {
	db DB
}

// NewRecordStore returns a RecordStore backed by db.
func NewRecordStore(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// Append inserts rec. Re-appending an existing id is a no-op.
func (s *RecordStore) Append(ctx context.Context, rec poller.EffectivenessRecord) error {
	published := rec.PublishedAt
	if published == nil {
		published = []time.Time{}
	}
	if _, err := s.db.Exec(ctx, appendRecordSQL,
		rec.ID,
		rec.ScheduleID,
		rec.Timestamp,
		rec.QuotaSpent,
		rec.ContentFound,
		rec.Slot,
		string(rec.Outcome),
		published,
	); err != nil {
		return fmt.Errorf("append effectiveness record %s: %w", rec.ID, err)
	}
	return nil
}

// LoadSince returns records at or after since, oldest first.
func (s *RecordStore) LoadSince(ctx context.Context, since time.Time) ([]poller.EffectivenessRecord, error) {
	rows, err := s.db.Query(ctx, loadRecordsSQL, since)
	if err != nil {
		return nil, fmt.Errorf("query effectiveness records: %w", err)
	}
	defer rows.Close()

	var out []poller.EffectivenessRecord
	for rows.Next() {
		var (
			rec     poller.EffectivenessRecord
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.ScheduleID, &rec.Timestamp, &rec.QuotaSpent,
			&rec.ContentFound, &rec.Slot, &outcome, &rec.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan effectiveness record: %w", err)
		}
		rec.Outcome = poller.ErrorKind(outcome)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effectiveness records: %w", err)
	}
	return out, nil
}

// DeleteBefore removes records older than before and reports how many went.
func (s *RecordStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteRecordsSQL, before)
	if err != nil {
		return 0, fmt.Errorf("prune effectiveness records: %w", err)
	}
	return tag.RowsAffected(), nil
}
