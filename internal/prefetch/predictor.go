// Package prefetch predicts which cached items consumers are about to read so
// the orchestrator can warm them with leftover capacity.
package prefetch

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/cache"
	"github.com/JakeFAU/streamwatch/internal/poller"
)

// Config gates prediction output.
type Config struct {
	Enabled bool
	// Threshold is the minimum confidence a prediction needs.
	Threshold float64
	// MaxItems caps predictions per dispatch cycle.
	MaxItems int
	// MinDays is how many days of history a key needs before it is predicted.
	MinDays int
}

// DefaultConfig returns the documented defaults with prefetch enabled.
func DefaultConfig() Config {
	return Config{Enabled: true, Threshold: 0.6, MaxItems: 20, MinDays: 3}
}

// UsageSource reports per-key read history.
type UsageSource interface {
	Usages(now time.Time) []cache.Usage
	Location() *time.Location
}

// Predictor turns read history into prefetch predictions.
type Predictor struct {
	cfg    Config
	usage  UsageSource
	logger *zap.Logger
}

// New builds a Predictor.
func New(cfg Config, usage UsageSource, logger *zap.Logger) *Predictor {
	def := DefaultConfig()
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.MinDays <= 0 {
		cfg.MinDays = def.MinDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{cfg: cfg, usage: usage, logger: logger.Named("prefetch")}
}

// Enabled reports whether prediction is switched on.
func (p *Predictor) Enabled() bool {
	return p.cfg.Enabled
}

// Predict returns keys likely to be read during the hour after now, highest
// confidence first. Confidence is the share of observed days on which the key
// was read in that hour.
func (p *Predictor) Predict(now time.Time) []poller.PrefetchPrediction {
	if !p.cfg.Enabled || p.usage == nil {
		return nil
	}
	hour := now.In(p.usage.Location()).Add(time.Hour).Hour()
	pattern := fmt.Sprintf("hourly:%02d", hour)

	var out []poller.PrefetchPrediction
	for _, u := range p.usage.Usages(now) {
		if u.DaysObserved < p.cfg.MinDays {
			continue
		}
		conf := float64(u.HourDays[hour]) / float64(u.DaysObserved)
		if conf < p.cfg.Threshold {
			continue
		}
		out = append(out, poller.PrefetchPrediction{
			Platform:    u.Key.Platform,
			ContentType: u.Key.ContentType,
			ContentID:   u.Key.Key,
			Confidence:  conf,
			Pattern:     pattern,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > p.cfg.MaxItems {
		out = out[:p.cfg.MaxItems]
	}
	if len(out) > 0 {
		p.logger.Debug("prefetch predictions", zap.Int("count", len(out)), zap.String("pattern", pattern))
	}
	return out
}
