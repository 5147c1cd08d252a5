package schedule

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// SlotSpec is the file form of a slot: a weekday name and an "HH:MM" time.
type SlotSpec struct {
	Day  string `yaml:"day" json:"day"`
	Time string `yaml:"time" json:"time"`
}

// Spec is the file form of a schedule definition.
type Spec struct {
	ID        string     `yaml:"id" json:"id"`
	ChannelID string     `yaml:"channel_id" json:"channel_id"`
	Platform  string     `yaml:"platform" json:"platform"`
	Operation string     `yaml:"operation,omitempty" json:"operation,omitempty"`
	Priority  int        `yaml:"priority" json:"priority"`
	Timezone  string     `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Active    *bool      `yaml:"active,omitempty" json:"active,omitempty"`
	Slots     []SlotSpec `yaml:"slots" json:"slots"`
}

// Definition converts the file form, defaulting Active to true and Priority to 3.
func (s Spec) Definition() (poller.ScheduleDefinition, error) {
	def := poller.ScheduleDefinition{
		ID:        s.ID,
		ChannelID: s.ChannelID,
		Platform:  poller.Platform(s.Platform),
		Operation: poller.Operation(s.Operation),
		Priority:  s.Priority,
		Timezone:  s.Timezone,
		Active:    true,
	}
	if s.Active != nil {
		def.Active = *s.Active
	}
	if def.Priority == 0 {
		def.Priority = 3
	}
	for _, raw := range s.Slots {
		slot, err := poller.ParseSlot(raw.Day, raw.Time)
		if err != nil {
			return def, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		def.Slots = append(def.Slots, slot)
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	return def, nil
}

type fileDoc struct {
	Schedules []Spec `yaml:"schedules"`
}

// Parse decodes a schedules document. Entries that fail validation are
// returned in invalid instead of failing the whole document.
func Parse(raw []byte) (defs []poller.ScheduleDefinition, invalid []error, err error) {
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, err
	}
	defs = make([]poller.ScheduleDefinition, 0, len(doc.Schedules))
	for i, spec := range doc.Schedules {
		def, err := spec.Definition()
		if err != nil {
			invalid = append(invalid, fmt.Errorf("schedules[%d] %q: %w", i, spec.ID, err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, invalid, nil
}

// FileStore reads schedule definitions from a YAML file. The file is parsed
// again only when its modification time changes.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	defs    []poller.ScheduleDefinition
}

// NewFileStore returns a store for path. The file is not read until List.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger.Named("schedule_file")}
}

// List returns the valid definitions in the file. Invalid entries are logged
// and skipped.
func (f *FileStore) List(_ context.Context) ([]poller.ScheduleDefinition, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("stat schedules file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.defs != nil && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return append([]poller.ScheduleDefinition(nil), f.defs...), nil
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read schedules file: %w", err)
	}
	defs, invalid, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse schedules file %s: %w", f.path, err)
	}
	for _, err := range invalid {
		f.logger.Warn("skipping invalid schedule", zap.Error(err))
	}
	f.defs = defs
	f.modTime = info.ModTime()
	f.size = info.Size()
	f.logger.Info("loaded schedules", zap.String("path", f.path), zap.Int("count", len(defs)))
	return append([]poller.ScheduleDefinition(nil), defs...), nil
}
