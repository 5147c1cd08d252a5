package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("event_id", evt.ID),
			zap.String("kind", string(evt.Kind)),
			zap.String("platform", string(evt.Platform)),
			zap.Time("ts", evt.TS),
		}
		if evt.ScheduleID != "" {
			fields = append(fields, zap.String("schedule_id", evt.ScheduleID))
		}
		if evt.Content != nil {
			fields = append(fields, zap.String("content_id", evt.Content.ID), zap.String("title", evt.Content.Title))
		}
		if evt.State != "" {
			fields = append(fields, zap.String("state", string(evt.State)))
		}
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", string(evt.ErrorKind)))
		}
		if evt.QuotaUnits > 0 {
			fields = append(fields, zap.Int("quota_units", evt.QuotaUnits))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("poll event", fields...)
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
