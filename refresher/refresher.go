// Package refresher owns the price refresh cycle: it decides whether the
// cached snapshot may be shown, fetches a new one when it may not, keeps the
// displayed state, persists successful fetches and refreshes periodically
// until closed.
package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sljivkov/ethticker/cache"
	"github.com/sljivkov/ethticker/domain"
	"github.com/sljivkov/ethticker/pricefeed"
)

var (
	// ErrRefreshInProgress is returned by a manual refresh while a fetch is in flight
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrClosed is returned once the refresher has been disposed
	ErrClosed = errors.New("refresher closed")
	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("refresher already started")
)

// fetchKey is the single-flight key shared by every fetch path
const fetchKey = "snapshot"

// fetch triggers, used in logs
const (
	sourceStartup = "startup"
	sourceTimer   = "timer"
	sourceManual  = "manual"
)

// Phase is the refresh state machine position
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseSuccess
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is what the widget shows. Snapshot survives errors so the last good
// prices stay visible.
type State struct {
	Phase     Phase
	Snapshot  *domain.PriceSnapshot
	Loading   bool
	Err       *domain.FetchError
	UpdatedAt time.Time
}

// Options configures a Refresher. Zero values fall back to defaults.
type Options struct {
	RefreshInterval time.Duration
	FreshnessWindow time.Duration
	Scheduler       pricefeed.Scheduler
	Metrics         *Metrics
	Logger          *zap.Logger
	Now             func() time.Time
}

// Refresher drives the refresh cycle for one widget instance
type Refresher struct {
	provider  pricefeed.PriceProvider
	store     pricefeed.SnapshotStore
	scheduler pricefeed.Scheduler
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
	interval  time.Duration
	window    time.Duration

	group singleflight.Group

	// lifetime context, cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	subs    []chan State
	running bool
	started bool
	closed  bool

	// serializes slot writes; persisted is the newest FetchedAt written
	persistMu sync.Mutex
	persisted time.Time
}

// New creates a Refresher fetching from provider and caching in store
func New(provider pricefeed.PriceProvider, store pricefeed.SnapshotStore, opts Options) *Refresher {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = domain.FreshnessWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewCronScheduler(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Refresher{
		provider:  provider,
		store:     store,
		scheduler: opts.Scheduler,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		interval:  opts.RefreshInterval,
		window:    opts.FreshnessWindow,
		ctx:       ctx,
		cancel:    cancel,
		state:     State{Phase: PhaseIdle},
	}
}

// Start runs the initial refresh cycle and schedules periodic refreshes.
// A fresh cached snapshot is shown without contacting the provider; otherwise
// one fetch is made. A failed initial fetch is reflected in State, not
// returned.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrClosed
	case r.started:
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	if snap, ok := r.LoadCachedSnapshot(ctx); ok {
		r.logger.Info("📦 Using cached price snapshot",
			zap.Duration("age", snap.Age(r.now())),
			zap.String("usd", snap.USD.String()))
		r.publishSuccess(snap)
	} else {
		_ = r.fetch(ctx, sourceStartup)
	}

	if err := r.scheduler.Every(r.interval, r.tick); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.scheduler.Start()
	r.logger.Info("📡 Starting periodic price refresh", zap.Duration("interval", r.interval))

	return nil
}

// LoadCachedSnapshot reads the cache slot. It reports false when the slot is
// empty, unreadable, corrupt or stale; none of these are errors.
func (r *Refresher) LoadCachedSnapshot(ctx context.Context) (*domain.PriceSnapshot, bool) {
	data, err := r.store.Load(ctx)
	if errors.Is(err, pricefeed.ErrNotFound) {
		r.metrics.cacheLookup("miss")
		return nil, false
	}
	if err != nil {
		r.logger.Warn("⚠️ Cache slot unavailable", zap.Error(err))
		r.metrics.cacheLookup("miss")
		return nil, false
	}

	snap, err := cache.DecodeSnapshot(data)
	if err != nil {
		r.logger.Warn("⚠️ Ignoring corrupt cache slot", zap.Error(err))
		r.metrics.cacheLookup("corrupt")
		return nil, false
	}

	if !snap.IsFresh(r.now(), r.window) {
		r.logger.Debug("Cached snapshot is stale", zap.Duration("age", snap.Age(r.now())))
		r.metrics.cacheLookup("stale")
		return nil, false
	}

	r.metrics.cacheLookup("hit")
	return snap, true
}

// Persist overwrites the cache slot with snap. A snapshot older than the one
// last written is skipped. Failures are logged only.
func (r *Refresher) Persist(ctx context.Context, snap domain.PriceSnapshot) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if snap.FetchedAt.Before(r.persisted) {
		return
	}

	data, err := cache.EncodeSnapshot(snap)
	if err == nil {
		err = r.store.Save(ctx, data)
	}
	if err != nil {
		r.logger.Warn("⚠️ Failed to persist price snapshot", zap.Error(err))
		r.metrics.persistFailed()
		return
	}
	r.persisted = snap.FetchedAt
}

// Refresh fetches a new snapshot now, bypassing the cache, and waits for the
// result. It returns ErrRefreshInProgress without fetching when a fetch is
// already running.
func (r *Refresher) Refresh(ctx context.Context) error {
	if err := r.claim(); err != nil {
		return err
	}
	return r.fetch(ctx, sourceManual)
}

// RefreshAsync is Refresh without waiting for the fetch to finish. The
// state is already Loading when it returns nil.
func (r *Refresher) RefreshAsync() error {
	if err := r.claim(); err != nil {
		return err
	}
	go func() {
		_ = r.fetch(r.ctx, sourceManual)
	}()
	return nil
}

// State returns the current display state
func (r *Refresher) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe returns a channel that receives every state change. Slow readers
// only see the newest state. The channel is closed by Close.
func (r *Refresher) Subscribe() <-chan State {
	ch := make(chan State, 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// Close stops periodic refreshes and disposes the refresher. Fetches that
// complete afterwards are discarded. Close is idempotent.
func (r *Refresher) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	r.mu.Unlock()

	r.cancel()
	r.scheduler.Stop()
	r.logger.Info("🛑 Price refresher stopped")
	return nil
}

func (r *Refresher) tick() {
	if r.isClosed() {
		return
	}
	_ = r.fetch(r.ctx, sourceTimer)
}

// claim enters Loading for a manual refresh, refusing when already loading
func (r *Refresher) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return ErrClosed
	case r.state.Loading:
		return ErrRefreshInProgress
	}
	r.setLoadingLocked()
	return nil
}

// fetch runs one provider call, or joins the one already in flight. The
// caller that ran the provider persists the result once the key is released.
func (r *Refresher) fetch(ctx context.Context, source string) error {
	leader := false
	v, err, _ := r.group.Do(fetchKey, func() (interface{}, error) {
		leader = true
		return r.run(ctx, source)
	})

	if !leader {
		r.logger.Debug("Joined in-flight price fetch", zap.String("source", source))
		r.settle(v, err)
		return err
	}
	if err == nil {
		r.Persist(ctx, *v.(*domain.PriceSnapshot))
	}
	return err
}

// settle applies a shared result to a Loading state entered after that
// result was already published, so no running fetch would ever end it.
func (r *Refresher) settle(v interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.running || !r.state.Loading {
		return
	}

	snap, _ := v.(*domain.PriceSnapshot)
	var fe *domain.FetchError
	switch {
	case err == nil && snap != nil:
		r.setSuccessLocked(snap)
	case errors.As(err, &fe):
		r.setErrorLocked(fe)
	}
}

func (r *Refresher) run(ctx context.Context, source string) (*domain.PriceSnapshot, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.setLoadingLocked()
	r.running = true
	r.mu.Unlock()

	start := time.Now()
	snap, err := r.provider.FetchSnapshot(ctx)
	r.metrics.observeFetch(err, time.Since(start))

	if err != nil {
		var fe *domain.FetchError
		if !errors.As(err, &fe) {
			fe = domain.NewFetchError(err)
		}
		r.logger.Warn("❌ Error fetching price snapshot", zap.String("source", source), zap.Error(err))
		if !r.publishError(fe) {
			return nil, ErrClosed
		}
		return nil, fe
	}

	if !r.publishSuccess(snap) {
		r.logger.Debug("Discarding price snapshot fetched after close", zap.String("source", source))
		return nil, ErrClosed
	}
	r.logger.Info("✅ Successfully fetched price snapshot",
		zap.String("source", source),
		zap.String("usd", snap.USD.String()),
		zap.String("btc", snap.BTC.String()))

	return snap, nil
}

func (r *Refresher) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Refresher) setLoadingLocked() {
	if r.state.Loading {
		return
	}
	r.state.Loading = true
	r.state.Phase = PhaseLoading
	r.state.UpdatedAt = r.now()
	r.notifyLocked()
}

// publishSuccess shows snap and clears any error. It reports false if the
// refresher was closed.
func (r *Refresher) publishSuccess(snap *domain.PriceSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.setSuccessLocked(snap)
	return true
}

// publishError shows fe next to the last snapshot
func (r *Refresher) publishError(fe *domain.FetchError) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.setErrorLocked(fe)
	return true
}

func (r *Refresher) setSuccessLocked(snap *domain.PriceSnapshot) {
	r.running = false
	r.state = State{
		Phase:     PhaseSuccess,
		Snapshot:  snap,
		UpdatedAt: r.now(),
	}
	r.notifyLocked()
}

func (r *Refresher) setErrorLocked(fe *domain.FetchError) {
	r.running = false
	r.state = State{
		Phase:     PhaseError,
		Snapshot:  r.state.Snapshot,
		Err:       fe,
		UpdatedAt: r.now(),
	}
	r.notifyLocked()
}

// notifyLocked hands the state to subscribers, replacing any unread value
func (r *Refresher) notifyLocked() {
	for _, ch := range r.subs {
		select {
		case ch <- r.state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- r.state:
			default:
			}
		}
	}
}
