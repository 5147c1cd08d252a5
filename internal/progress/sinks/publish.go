package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/progress"
)

// PublishSink forwards selected event kinds to a broker topic. Consumers such
// as notification delivery subscribe there.
type PublishSink struct {
	publisher poller.Publisher
	topic     string
	kinds     map[progress.Kind]struct{}
	logger    *zap.Logger
}

// NewPublishSink publishes events of the given kinds to topic. With no kinds
// only content_discovered events are forwarded.
func NewPublishSink(publisher poller.Publisher, topic string, logger *zap.Logger, kinds ...progress.Kind) *PublishSink {
	if len(kinds) == 0 {
		kinds = []progress.Kind{progress.KindContentDiscovered}
	}
	set := make(map[progress.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, kinds: set, logger: logger.Named("publish_sink")}
}

// Consume publishes each selected event. Failures are joined so one bad
// publish does not hide later ones.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if _, ok := s.kinds[evt.Kind]; !ok {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish event %s: %w", evt.ID, err))
			continue
		}
		s.logger.Debug("event published", zap.String("event_id", evt.ID), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
