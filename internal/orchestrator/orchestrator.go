// Package orchestrator drives polling: each tick it collects due schedules,
// admits them against quota, and runs the fetches on a bounded worker pool.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/streamwatch/internal/cache"
	"github.com/JakeFAU/streamwatch/internal/fetch"
	"github.com/JakeFAU/streamwatch/internal/learner"
	"github.com/JakeFAU/streamwatch/internal/platform"
	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/prefetch"
	"github.com/JakeFAU/streamwatch/internal/progress"
	"github.com/JakeFAU/streamwatch/internal/quota"
	"github.com/JakeFAU/streamwatch/internal/schedule"
	"github.com/JakeFAU/streamwatch/internal/storage"
	"github.com/JakeFAU/streamwatch/internal/telemetry"
)

// ErrTaskTimeout is reported when a fetch outlives the per-task timeout.
var ErrTaskTimeout = errors.New("orchestrator: task timed out")

// Config tunes the dispatch loop.
type Config struct {
	// Workers bounds concurrent fetches within a tick.
	Workers int
	// TaskTimeout cancels a single fetch that runs too long.
	TaskTimeout time.Duration
	// Interval is the tick period.
	Interval time.Duration
	// MaintenanceInterval is how often expired cache entries and old
	// effectiveness records are pruned.
	MaintenanceInterval time.Duration
	// SeenPerSource bounds how many content ids are remembered per schedule.
	SeenPerSource int
	// SeenRetention is how long reported content ids stay in the seen store.
	SeenRetention time.Duration
	// CacheTTL maps a content type to how long its payload stays fresh.
	CacheTTL map[string]time.Duration
	// DefaultTTL applies to content types missing from CacheTTL.
	DefaultTTL time.Duration
	// ArchiveRaw stores every successful upstream body in the blob store.
	ArchiveRaw bool
	// PrefetchQuotaShare caps the share of a platform's usable daily budget
	// that prefetch may spend in one quota window.
	PrefetchQuotaShare float64
	// PrefetchMaxItems caps prefetch fetches per platform per quota window.
	PrefetchMaxItems int
}

// DefaultConfig returns five workers, a 15s task timeout and a one minute tick.
func DefaultConfig() Config {
	return Config{
		Workers:             5,
		TaskTimeout:         15 * time.Second,
		Interval:            time.Minute,
		MaintenanceInterval: 10 * time.Minute,
		SeenPerSource:       500,
		SeenRetention:       30 * 24 * time.Hour,
		CacheTTL: map[string]time.Duration{
			"live":    2 * time.Minute,
			"uploads": 15 * time.Minute,
			"video":   30 * time.Minute,
			"channel": 6 * time.Hour,
		},
		DefaultTTL:         15 * time.Minute,
		PrefetchQuotaShare: 0.1,
		PrefetchMaxItems:   20,
	}
}

// Fetcher executes one fetch; *fetch.Executor satisfies it.
type Fetcher interface {
	Execute(ctx context.Context, target poller.Target) fetch.Outcome
}

// Deps are the collaborators the orchestrator drives. Predictor, Events,
// Blobs and Seen are optional; without Seen, reported ids live only in memory.
type Deps struct {
	Scheduler *schedule.Scheduler
	Quota     *quota.Registry
	Cache     *cache.Store
	Fetcher   Fetcher
	Learner   *learner.Learner
	Adapters  *platform.Registry
	Predictor *prefetch.Predictor
	Events    progress.Emitter
	Blobs     poller.BlobStore
	Seen      poller.SeenStore
	Clock     poller.Clock
	Logger    *zap.Logger
}

// Report summarizes one tick.
type Report struct {
	Due        int `json:"due"`
	CacheFresh int `json:"cache_fresh"`
	Admitted   int `json:"admitted"`
	NoQuota    int `json:"no_quota"`
	Failed     int `json:"failed"`
	Prefetched int `json:"prefetched"`
}

// Orchestrator runs ticks. Tick is not safe for concurrent use; Run calls it
// serially.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	seen *seenSet

	mu       sync.RWMutex
	lastTick time.Time

	prefetchMu  sync.Mutex
	prefetchUse map[poller.Platform]*prefetchWindow
}

// prefetchWindow is what prefetch has taken from one quota window.
type prefetchWindow struct {
	start time.Time
	units int
	items int
}

// task is one admitted fetch.
type task struct {
	item     *schedule.Item
	target   poller.Target
	ledger   *quota.Ledger
	hold     quota.Reservation
	prefetch *poller.PrefetchPrediction
	// window is the quota window a prefetch was charged to.
	window time.Time
}

// New validates deps and fills zero config fields from DefaultConfig.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Scheduler == nil:
		return nil, errors.New("orchestrator: scheduler is required")
	case deps.Quota == nil:
		return nil, errors.New("orchestrator: quota registry is required")
	case deps.Cache == nil:
		return nil, errors.New("orchestrator: cache is required")
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case deps.Learner == nil:
		return nil, errors.New("orchestrator: learner is required")
	case deps.Adapters == nil:
		return nil, errors.New("orchestrator: platform registry is required")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.SeenPerSource <= 0 {
		cfg.SeenPerSource = def.SeenPerSource
	}
	if cfg.SeenRetention <= 0 {
		cfg.SeenRetention = def.SeenRetention
	}
	if cfg.PrefetchQuotaShare <= 0 || cfg.PrefetchQuotaShare > 1 {
		cfg.PrefetchQuotaShare = def.PrefetchQuotaShare
	}
	if cfg.PrefetchMaxItems <= 0 {
		cfg.PrefetchMaxItems = def.PrefetchMaxItems
	}
	if cfg.CacheTTL == nil {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  logger.Named("orchestrator"),
		seen: newSeenSet(cfg.SeenPerSource),

		prefetchUse: make(map[poller.Platform]*prefetchWindow),
	}, nil
}

// Run ticks immediately and then every Interval until ctx is canceled.
// In-flight fetches are canceled with ctx and their reservations released.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator started",
		zap.Int("workers", o.cfg.Workers),
		zap.Duration("interval", o.cfg.Interval),
		zap.Duration("task_timeout", o.cfg.TaskTimeout),
	)
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	maintenance := time.NewTicker(o.cfg.MaintenanceInterval)
	defer maintenance.Stop()

	o.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopped")
			return nil
		case <-ticker.C:
			o.runTick(ctx)
		case <-maintenance.C:
			o.Maintain(ctx)
		}
	}
}

func (o *Orchestrator) runTick(ctx context.Context) {
	if _, err := o.Tick(ctx); err != nil && ctx.Err() == nil {
		o.log.Error("tick failed", zap.Error(err))
	}
}

// LastTick returns when the most recent tick finished; zero before the first.
func (o *Orchestrator) LastTick() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastTick
}

// Tick performs one dispatch cycle and waits for its fetches to finish.
func (o *Orchestrator) Tick(ctx context.Context) (Report, error) {
	now := o.deps.Clock.Now()
	items, err := o.deps.Scheduler.Due(ctx, now)
	if err != nil {
		return Report{}, fmt.Errorf("collect due schedules: %w", err)
	}
	rep := Report{Due: len(items)}

	targets := make(map[string]poller.Target, len(items))
	candidates := make([]schedule.Item, 0, len(items))
	for _, it := range items {
		target, err := o.deps.Adapters.TargetFor(it.Definition)
		if err != nil {
			rep.Failed++
			o.complete(it, schedule.Result{State: poller.StateFailed, Kind: poller.KindFatal, Err: err}, 0)
			continue
		}
		if o.deps.Cache.Fresh(target.CacheKey()) {
			rep.CacheFresh++
			o.complete(it, schedule.Result{State: poller.StateSkippedCacheFresh}, 0)
			continue
		}
		targets[it.ID()] = target
		candidates = append(candidates, it)
	}

	var tasks []task
	admitted, denied := o.deps.Scheduler.Admit(candidates, func(it schedule.Item) bool {
		t, ok := o.reserve(targets[it.ID()])
		if !ok {
			return false
		}
		t.item = &it
		tasks = append(tasks, t)
		return true
	})
	rep.Admitted = len(admitted)
	rep.NoQuota = len(denied)
	starved := make(map[poller.Platform]bool)
	for _, it := range denied {
		starved[it.Definition.Platform] = true
		o.complete(it, schedule.Result{State: poller.StateSkippedNoQuota}, 0)
	}

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	for _, t := range tasks {
		o.deps.Scheduler.Transition(*t.item, poller.StateExecuting)
		g.Go(func() error {
			o.runTask(ctx, t)
			return nil
		})
	}
	rep.Prefetched = o.dispatchPrefetch(ctx, now, g, starved)
	_ = g.Wait()

	o.mu.Lock()
	o.lastTick = o.deps.Clock.Now()
	o.mu.Unlock()
	o.log.Debug("tick complete",
		zap.Int("due", rep.Due),
		zap.Int("cache_fresh", rep.CacheFresh),
		zap.Int("admitted", rep.Admitted),
		zap.Int("no_quota", rep.NoQuota),
		zap.Int("prefetched", rep.Prefetched),
	)
	return rep, nil
}

// reserve holds quota for one fetch of target.
func (o *Orchestrator) reserve(target poller.Target) (task, bool) {
	ledger, err := o.deps.Quota.For(target.Platform)
	if err != nil {
		o.log.Warn("no quota ledger for platform", zap.String("platform", string(target.Platform)))
		return task{}, false
	}
	adm := ledger.TryReserve(target.Operation, ledger.Cost(target.Operation))
	if !adm.Granted {
		o.log.Debug("reservation denied",
			zap.String("target", target.String()),
			zap.String("reason", string(adm.Reason)),
			zap.Int("remaining", adm.Remaining),
		)
		return task{}, false
	}
	return task{target: target, ledger: ledger, hold: adm.Reservation}, true
}

// dispatchPrefetch queues prediction fetches into whatever pool capacity the
// regular tasks left free, without waiting for a slot. Platforms that denied
// scheduled work this tick are skipped, and quota for slots still due before
// the next reset stays untouched.
func (o *Orchestrator) dispatchPrefetch(ctx context.Context, now time.Time, g *errgroup.Group, starved map[poller.Platform]bool) int {
	p := o.deps.Predictor
	if p == nil || !p.Enabled() {
		return 0
	}
	demand := make(map[poller.Platform]int)
	started := 0
	for _, pred := range p.Predict(now) {
		target, err := o.deps.Adapters.TargetForPrediction(pred)
		if err != nil {
			telemetry.ObservePrefetch("unsupported")
			continue
		}
		if starved[target.Platform] {
			telemetry.ObservePrefetch("no_quota")
			continue
		}
		if o.deps.Cache.Fresh(target.CacheKey()) {
			telemetry.ObservePrefetch("cache_fresh")
			continue
		}
		ledger, err := o.deps.Quota.For(target.Platform)
		if err != nil {
			telemetry.ObservePrefetch("unsupported")
			continue
		}
		need, ok := demand[target.Platform]
		if !ok {
			if need, err = o.scheduledDemand(ctx, ledger, now); err != nil {
				o.log.Warn("estimate scheduled quota demand", zap.String("platform", string(target.Platform)), zap.Error(err))
				starved[target.Platform] = true
				telemetry.ObservePrefetch("no_quota")
				continue
			}
			demand[target.Platform] = need
		}
		cost := ledger.Cost(target.Operation)
		window, reason := o.admitPrefetch(ledger.Stats(), cost, need)
		if reason != "" {
			telemetry.ObservePrefetch(reason)
			continue
		}
		t, ok := o.reserve(target)
		if !ok {
			o.refundPrefetch(target.Platform, window, cost, 1)
			telemetry.ObservePrefetch("no_quota")
			continue
		}
		t.prefetch = &pred
		t.window = window
		if !g.TryGo(func() error {
			o.runTask(ctx, t)
			return nil
		}) {
			t.ledger.Release(t.hold)
			o.refundPrefetch(target.Platform, window, cost, 1)
			telemetry.ObservePrefetch("no_capacity")
			break
		}
		started++
	}
	return started
}

// scheduledDemand sums the cost of every active slot on the ledger's platform
// that comes due between now and the next quota reset.
func (o *Orchestrator) scheduledDemand(ctx context.Context, ledger *quota.Ledger, now time.Time) (int, error) {
	defs, err := o.deps.Scheduler.Definitions(ctx)
	if err != nil {
		return 0, err
	}
	reset := ledger.Stats().NextReset
	total := 0
	for _, def := range defs {
		if !def.Active || def.Platform != ledger.Platform() {
			continue
		}
		target, err := o.deps.Adapters.TargetFor(def)
		if err != nil {
			continue
		}
		cost := ledger.Cost(target.Operation)
		at := now
		for {
			next, ok := schedule.NextSlot(def, at)
			if !ok || !next.Before(reset) {
				break
			}
			total += cost
			at = next
		}
	}
	return total, nil
}

// admitPrefetch charges one prefetch of cost units to the current window of
// st's platform and returns the window start. A non-empty reason means the
// prefetch does not fit.
func (o *Orchestrator) admitPrefetch(st quota.Stats, cost, demand int) (time.Time, string) {
	if st.Available-cost < demand {
		return time.Time{}, "reserved_for_schedules"
	}
	share := int(o.cfg.PrefetchQuotaShare * float64(st.Limit-st.SafetyMargin))

	o.prefetchMu.Lock()
	defer o.prefetchMu.Unlock()
	w := o.prefetchUse[st.Platform]
	if w == nil || !w.start.Equal(st.WindowStart) {
		w = &prefetchWindow{start: st.WindowStart}
		o.prefetchUse[st.Platform] = w
	}
	switch {
	case w.items >= o.cfg.PrefetchMaxItems:
		return time.Time{}, "window_items"
	case w.units+cost > share:
		return time.Time{}, "window_share"
	}
	w.units += cost
	w.items++
	return w.start, ""
}

// refundTask gives an uncharged prefetch's units back to its window.
func (o *Orchestrator) refundTask(t task) {
	if t.prefetch != nil {
		o.refundPrefetch(t.target.Platform, t.window, t.hold.Units, 0)
	}
}

// refundPrefetch returns units (and items) to a window that is still current.
func (o *Orchestrator) refundPrefetch(platform poller.Platform, window time.Time, units, items int) {
	o.prefetchMu.Lock()
	defer o.prefetchMu.Unlock()
	if w := o.prefetchUse[platform]; w != nil && w.start.Equal(window) {
		w.units = max(0, w.units-units)
		w.items = max(0, w.items-items)
	}
}

// runTask executes one fetch and settles its reservation. Panics are contained
// so a failing task never affects its siblings.
func (o *Orchestrator) runTask(ctx context.Context, t task) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			t.ledger.Release(t.hold)
			o.refundTask(t)
			err := fmt.Errorf("task panic: %v", r)
			o.log.Error("task panicked", zap.String("target", t.target.String()), zap.Any("panic", r))
			if t.item != nil {
				o.recordAttempt(ctx, *t.item, poller.KindFatal, 0, nil)
				o.complete(*t.item, schedule.Result{State: poller.StateFailed, Kind: poller.KindFatal, Err: err}, 0)
			}
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	out := o.deps.Fetcher.Execute(tctx, t.target)
	timedOut := errors.Is(tctx.Err(), context.DeadlineExceeded)
	cancel()

	if ctx.Err() != nil {
		t.ledger.Release(t.hold)
		o.refundTask(t)
		if t.item != nil {
			o.deps.Scheduler.Transition(*t.item, poller.StateIdle)
		}
		o.log.Info("fetch abandoned on shutdown", zap.String("target", t.target.String()))
		return
	}
	if timedOut && out.Kind == poller.KindCanceled {
		out.Err = fmt.Errorf("%w after %s", ErrTaskTimeout, o.cfg.TaskTimeout)
	}

	spent := o.settle(ctx, t, out)
	if out.Kind == poller.KindOK {
		o.store(ctx, t.target, out)
	}
	if t.prefetch != nil {
		o.finishPrefetch(t, out, spent)
		return
	}
	o.finishScheduled(ctx, *t.item, t.target, out, spent)
}

// settle commits quota for completed attempts and releases it otherwise.
// It returns the units charged.
func (o *Orchestrator) settle(ctx context.Context, t task, out fetch.Outcome) int {
	if !out.Kind.Completed() {
		t.ledger.Release(t.hold)
		return 0
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := t.ledger.Commit(persistCtx, t.hold); err != nil {
		o.log.Warn("persist quota commit", zap.String("platform", string(t.target.Platform)), zap.Error(err))
	}
	if out.Kind == poller.KindQuotaExceeded {
		if err := t.ledger.Lock(persistCtx, t.target.String()); err != nil {
			o.log.Warn("persist quota lockout", zap.String("platform", string(t.target.Platform)), zap.Error(err))
		}
		o.emit(progress.Event{
			Kind:       progress.KindQuotaLocked,
			Platform:   t.target.Platform,
			QuotaUnits: t.hold.Units,
			Note:       errText(out.Err),
		})
	}
	return t.hold.Units
}

// store writes a successful body to the cache and, when enabled, the archive.
func (o *Orchestrator) store(ctx context.Context, target poller.Target, out fetch.Outcome) {
	ttl := o.cfg.DefaultTTL
	if d, ok := o.cfg.CacheTTL[target.ContentType]; ok {
		ttl = d
	}
	if err := o.deps.Cache.Set(ctx, target.CacheKey(), out.Raw, ttl); err != nil {
		o.log.Warn("cache write-through failed", zap.String("key", target.CacheKey().String()), zap.Error(err))
	}
	if !o.cfg.ArchiveRaw || o.deps.Blobs == nil || len(out.Raw) == 0 {
		return
	}
	path := storage.ArchivePath(target, o.deps.Clock.Now())
	uri, err := o.deps.Blobs.PutObject(ctx, path, "application/json", bytes.NewReader(out.Raw))
	if err != nil {
		o.log.Warn("archive raw payload", zap.String("path", path), zap.Error(err))
		return
	}
	o.log.Debug("archived raw payload", zap.String("uri", uri))
}

func (o *Orchestrator) finishScheduled(ctx context.Context, item schedule.Item, target poller.Target, out fetch.Outcome, spent int) {
	fresh := o.discover(ctx, item, out.Items)
	o.recordAttempt(ctx, item, out.Kind, spent, fresh)

	res := schedule.Result{State: poller.StateRecorded, Kind: out.Kind}
	if out.Kind != poller.KindOK {
		res.State = poller.StateFailed
		res.Err = out.Err
	}
	o.complete(item, res, spent)
	o.log.Debug("fetch finished",
		zap.String("schedule_id", item.ID()),
		zap.String("target", target.String()),
		zap.String("kind", string(out.Kind)),
		zap.Int("items", len(out.Items)),
		zap.Int("new", len(fresh)),
		zap.Duration("duration", out.Duration),
	)
}

// recordAttempt appends the effectiveness record of one executed attempt.
// Attempts that charged nothing are recorded with zero spend.
func (o *Orchestrator) recordAttempt(ctx context.Context, item schedule.Item, kind poller.ErrorKind, spent int, fresh []poller.ContentItem) {
	rec := poller.EffectivenessRecord{
		ScheduleID:   item.ID(),
		QuotaSpent:   spent,
		ContentFound: len(fresh),
		Slot:         item.Slot.String(),
		Outcome:      kind,
	}
	for _, c := range fresh {
		if !c.PublishedAt.IsZero() {
			rec.PublishedAt = append(rec.PublishedAt, c.PublishedAt)
		}
	}
	if _, err := o.deps.Learner.Record(context.WithoutCancel(ctx), rec); err != nil {
		o.log.Warn("record effectiveness", zap.String("schedule_id", item.ID()), zap.Error(err))
	}
}

// discover returns the items not seen before for the schedule, announces
// them and persists their ids.
func (o *Orchestrator) discover(ctx context.Context, item schedule.Item, items []poller.ContentItem) []poller.ContentItem {
	o.seedSeen(ctx, item.ID())
	var fresh []poller.ContentItem
	for _, c := range items {
		if !o.seen.Add(item.ID(), c.ID) {
			continue
		}
		fresh = append(fresh, c)
		content := c
		o.emit(progress.Event{
			Kind:       progress.KindContentDiscovered,
			ScheduleID: item.ID(),
			Platform:   item.Definition.Platform,
			ChannelID:  item.Definition.ChannelID,
			Content:    &content,
		})
	}
	telemetry.ObserveDiscovered(string(item.Definition.Platform), len(fresh))

	if o.deps.Seen != nil && len(fresh) > 0 {
		ids := make([]string, len(fresh))
		for i, c := range fresh {
			ids[i] = c.ID
		}
		if err := o.deps.Seen.Add(context.WithoutCancel(ctx), item.ID(), ids, o.deps.Clock.Now()); err != nil {
			o.log.Warn("persist seen content", zap.String("schedule_id", item.ID()), zap.Error(err))
		}
	}
	return fresh
}

// seedSeen fills a schedule's seen ids from the store once per process.
func (o *Orchestrator) seedSeen(ctx context.Context, scheduleID string) {
	if o.deps.Seen == nil || o.seen.Seeded(scheduleID) {
		return
	}
	ids, err := o.deps.Seen.Load(ctx, scheduleID, o.cfg.SeenPerSource)
	if err != nil {
		o.log.Warn("load seen content", zap.String("schedule_id", scheduleID), zap.Error(err))
		return
	}
	slices.Reverse(ids)
	o.seen.Seed(scheduleID, ids)
}

func (o *Orchestrator) finishPrefetch(t task, out fetch.Outcome, spent int) {
	if spent == 0 {
		o.refundTask(t)
	}
	result := "ok"
	if out.Kind != poller.KindOK {
		result = "failed"
	}
	telemetry.ObservePrefetch(result)
	o.emit(progress.Event{
		Kind:      progress.KindPrefetchCompleted,
		Platform:  t.target.Platform,
		ChannelID: t.target.ID,
		ErrorKind: out.Kind,
		Note:      t.prefetch.Pattern,
	})
	o.log.Debug("prefetch finished",
		zap.String("target", t.target.String()),
		zap.Float64("confidence", t.prefetch.Confidence),
		zap.String("kind", string(out.Kind)),
	)
}

// complete settles the scheduler state and publishes the outcome.
func (o *Orchestrator) complete(item schedule.Item, res schedule.Result, units int) {
	o.deps.Scheduler.Complete(item, res)
	o.emit(progress.Event{
		Kind:       progress.KindScheduleOutcome,
		ScheduleID: item.ID(),
		Platform:   item.Definition.Platform,
		ChannelID:  item.Definition.ChannelID,
		State:      res.State,
		ErrorKind:  res.Kind,
		QuotaUnits: units,
		Note:       errText(res.Err),
	})
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.deps.Events != nil {
		o.deps.Events.Emit(evt)
	}
}

// Maintain prunes expired cache entries, effectiveness history and old seen ids.
func (o *Orchestrator) Maintain(ctx context.Context) {
	if n, err := o.deps.Cache.CleanupExpired(ctx); err != nil {
		o.log.Warn("cache cleanup", zap.Error(err))
	} else if n > 0 {
		o.log.Info("expired cache entries removed", zap.Int("count", n))
	}
	if n, err := o.deps.Learner.Prune(ctx); err != nil {
		o.log.Warn("prune effectiveness history", zap.Error(err))
	} else if n > 0 {
		o.log.Info("old effectiveness records removed", zap.Int64("count", n))
	}
	if o.deps.Seen == nil {
		return
	}
	if n, err := o.deps.Seen.DeleteBefore(ctx, o.deps.Clock.Now().Add(-o.cfg.SeenRetention)); err != nil {
		o.log.Warn("prune seen content", zap.Error(err))
	} else if n > 0 {
		o.log.Info("old seen content ids removed", zap.Int64("count", n))
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
