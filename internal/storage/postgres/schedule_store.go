package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/schedule"
)

const listSchedulesSQL = `SELECT id, channel_id, platform, operation, priority, timezone, active, slots
FROM schedules ORDER BY id`

// ScheduleStore reads schedule definitions managed outside the service.
type ScheduleStore struct {
	db     DB
	logger *zap.Logger
}

// NewScheduleStore returns a ScheduleStore backed by db.
func NewScheduleStore(db DB, logger *zap.Logger) *ScheduleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleStore{db: db, logger: logger.Named("schedule_pg")}
}

// List returns every valid row. Rows that fail validation are logged and skipped.
func (s *ScheduleStore) List(ctx context.Context) ([]poller.ScheduleDefinition, error) {
	rows, err := s.db.Query(ctx, listSchedulesSQL)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []poller.ScheduleDefinition
	for rows.Next() {
		var (
			spec   schedule.Spec
			active bool
			slots  []byte
		)
		if err := rows.Scan(&spec.ID, &spec.ChannelID, &spec.Platform, &spec.Operation,
			&spec.Priority, &spec.Timezone, &active, &slots); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		spec.Active = &active
		if len(slots) > 0 {
			if err := json.Unmarshal(slots, &spec.Slots); err != nil {
				s.logger.Warn("skipping schedule with unreadable slots", zap.String("schedule_id", spec.ID), zap.Error(err))
				continue
			}
		}
		def, err := spec.Definition()
		if err != nil {
			s.logger.Warn("skipping invalid schedule", zap.String("schedule_id", spec.ID), zap.Error(err))
			continue
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}
