package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

const (
	loadQuotaSQL = `SELECT platform, window_start, used, locked_until, operations, version, updated_at
FROM quota_state WHERE platform = $1`
	saveQuotaSQL = `INSERT INTO quota_state (platform, window_start, used, locked_until, operations, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (platform) DO UPDATE SET
    window_start = EXCLUDED.window_start,
    used = EXCLUDED.used,
    locked_until = EXCLUDED.locked_until,
    operations = EXCLUDED.operations,
    version = EXCLUDED.version,
    updated_at = EXCLUDED.updated_at
WHERE quota_state.version < EXCLUDED.version`
)

// QuotaStore persists ledger state, one row per platform.
type QuotaStore struct {
	db DB
}

// NewQuotaStore returns a QuotaStore backed by db.
func NewQuotaStore(db DB) *QuotaStore {
	return &QuotaStore{db: db}
}

// Load returns the stored state or poller.ErrNotFound.
func (s *QuotaStore) Load(ctx context.Context, platform poller.Platform) (poller.QuotaState, error) {
	var (
		st          poller.QuotaState
		name        string
		lockedUntil *time.Time
		ops         []byte
	)
	err := s.db.QueryRow(ctx, loadQuotaSQL, string(platform)).
		Scan(&name, &st.WindowStart, &st.Used, &lockedUntil, &ops, &st.Version, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return poller.QuotaState{}, poller.ErrNotFound
	}
	if err != nil {
		return poller.QuotaState{}, fmt.Errorf("load quota state %s: %w", platform, err)
	}
	st.Platform = poller.Platform(name)
	if lockedUntil != nil {
		st.LockedUntil = *lockedUntil
	}
	if len(ops) > 0 {
		if err := json.Unmarshal(ops, &st.Operations); err != nil {
			return poller.QuotaState{}, fmt.Errorf("decode quota operations %s: %w", platform, err)
		}
	}
	return st, nil
}

// Save upserts state. Rows already at a newer or equal version are left alone.
func (s *QuotaStore) Save(ctx context.Context, state poller.QuotaState) error {
	ops := state.Operations
	if ops == nil {
		ops = map[poller.Operation]poller.OperationUsage{}
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode quota operations: %w", err)
	}
	if _, err := s.db.Exec(ctx, saveQuotaSQL,
		string(state.Platform),
		state.WindowStart,
		state.Used,
		nullTime(state.LockedUntil),
		raw,
		state.Version,
		state.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save quota state %s: %w", state.Platform, err)
	}
	return nil
}
