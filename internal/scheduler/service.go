package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"postpilot/internal/eventbus"
	"postpilot/internal/monitor"
	"postpilot/internal/post"
	"postpilot/internal/publish"
	"postpilot/internal/queue"
	"postpilot/internal/ratewindow"
	"postpilot/internal/session"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// Deps are the collaborators the scheduler does not own.
type Deps struct {
	Monitor *monitor.Monitor
	Bus     eventbus.Bus
	Store   store.Store // nil disables checkpointing
	Inst    *monitor.Instruments
}

// Service is the scheduling engine. Construct with New, register targets,
// then Start.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	queue    *queue.Queue
	windows  *ratewindow.Keeper
	sessions *session.Cache
	mon      *monitor.Monitor
	inst     *monitor.Instruments
	bus      eventbus.Bus
	st       store.Store

	targets map[string]*targetBinding

	limiter *rate.Limiter

	dispatchCh chan dispatchJob
	results    chan dispatchResult
	wake       chan struct{}

	running   bool
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
	cron      *cron.Cron

	dispatched  atomic.Uint64
	droppedFull atomic.Uint64

	// clock is swapped in tests.
	clock func() time.Time
}

func New(cfg Config, log logx.Logger, deps Deps) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	mon := deps.Monitor
	if mon == nil {
		mon = monitor.New(monitor.Config{})
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Service{
		cfg:        cfg,
		log:        log.With(logx.String("svc", "scheduler")),
		queue:      queue.New(),
		windows:    ratewindow.NewKeeper(cfg.Rate),
		sessions:   session.NewCache(cfg.SessionTTL),
		mon:        mon,
		inst:       deps.Inst,
		bus:        bus,
		st:         deps.Store,
		targets:    map[string]*targetBinding{},
		limiter:    rate.NewLimiter(rate.Limit(cfg.DispatchPerSec), cfg.DispatchPerSec),
		dispatchCh: make(chan dispatchJob, cfg.QueueSize),
		results:    make(chan dispatchResult, cfg.QueueSize),
		wake:       make(chan struct{}, 1),
		clock:      time.Now,
	}
	// Replaced by Start; keeps direct calls safe before it.
	s.runCtx, s.runCancel = context.Background(), func() {}
	return s
}

// RegisterTarget binds a publisher and its credentials to a target name.
// Must be called before items naming that target come due; re-registering
// replaces the publisher but keeps any in-flight gate state.
func (s *Service) RegisterTarget(name string, pub publish.Publisher, creds publish.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.targets[name]; ok {
		b.pub = pub
		b.creds = creds
		return
	}
	s.targets[name] = &targetBinding{name: name, pub: pub, creds: creds}
}

func (s *Service) binding(name string) *targetBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[name]
}

func (s *Service) cfgNow() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start restores checkpointed state, launches the worker pool, the drain
// loop, and the housekeeping cron. Idempotent while running.
func (s *Service) Start() error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.running = true
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.restore()

	for i := 0; i < cfg.Workers; i++ {
		s.workerWG.Add(1)
		go s.worker()
	}
	go s.run()

	c := cron.New()
	_, _ = c.AddFunc("@every "+cfg.CleanupEvery.String(), s.cleanup)
	_, _ = c.AddFunc("@every "+cfg.CheckpointEvery.String(), s.checkpoint)
	c.Start()
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	s.log.Info("scheduler started",
		logx.Int("workers", cfg.Workers),
		logx.Duration("drain_interval", cfg.DrainInterval),
		logx.Int("queued", s.queue.Pending()))
	return nil
}

// Stop halts dispatching, waits for in-flight workers, reclaims abandoned
// in-flight state, and writes a final checkpoint. Results that landed before
// the workers exited are applied; the rest re-dispatch on the next Start.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	close(stopCh)
	<-s.stopDone
	s.runCancel()
	s.workerWG.Wait()
	if c != nil {
		<-c.Stop().Done()
	}
	s.reclaimInFlight()
	s.checkpoint()
	s.log.Info("scheduler stopped", logx.Uint64("dispatched", s.dispatched.Load()))
}

// reclaimInFlight cleans up after the worker pool has exited. A worker's exit
// select can drop a completed result on the floor, and queued jobs may never
// have been picked up; both leave a held per-target gate and a running
// sub-status that DueTargets would skip forever. Landed results are applied
// as real outcomes, then every gate is released and remaining running
// sub-statuses are demoted so the pairs re-dispatch after the next Start.
func (s *Service) reclaimInFlight() {
	for {
		select {
		case res := <-s.results:
			s.applyResult(res)
			continue
		default:
		}
		break
	}
	for {
		select {
		case <-s.dispatchCh:
			continue
		default:
		}
		break
	}

	s.mu.Lock()
	for _, b := range s.targets {
		b.gate.release()
	}
	s.mu.Unlock()

	if n := s.queue.DemoteRunning(s.clock()); n > 0 {
		s.log.Warn("reclaimed in-flight dispatches", logx.Int("targets", n))
	}
}

// Apply swaps the runtime knobs: rate caps, retry policy, dispatch smoothing,
// and timeouts. Worker count and channel sizes are fixed at construction.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	cfg.Workers = s.cfg.Workers
	cfg.QueueSize = s.cfg.QueueSize
	s.cfg = cfg
	s.mu.Unlock()

	s.windows.Apply(cfg.Rate)
	s.limiter.SetLimit(rate.Limit(cfg.DispatchPerSec))
	s.limiter.SetBurst(cfg.DispatchPerSec)
	s.log.Info("scheduler config applied",
		logx.Int("dispatch_per_sec", cfg.DispatchPerSec),
		logx.Int("max_retries", cfg.Retry.MaxRetries))
}

// Enqueue schedules content for publication to targets at the given time,
// which may be in the past (due immediately). It returns the generated item
// id. Works before Start; items simply wait.
func (s *Service) Enqueue(content post.Content, targets []string, at time.Time) (string, error) {
	now := s.clock()
	if at.IsZero() {
		at = now
	}
	id := uuid.NewString()
	it, err := post.New(id, content, targets, at, now)
	if err != nil {
		return "", err
	}
	if err := s.queue.Enqueue(it); err != nil {
		return "", err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.log.Debug("item enqueued",
		logx.String("item", id),
		logx.Int("targets", len(targets)),
		logx.Time("at", at))
	return id, nil
}

// Cancel cancels a queued item. Running and terminal items are left alone;
// the returned state tells the caller which case it hit.
func (s *Service) Cancel(id string) (post.State, bool, error) {
	state, ok, err := s.queue.Cancel(id, s.clock())
	if err != nil {
		return "", false, err
	}
	if ok {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeItemDone, ItemID: id, State: string(post.StateCancelled),
		})
		s.log.Info("item cancelled", logx.String("item", id))
	}
	return state, ok, nil
}

// Item returns a copy of the item's current state.
func (s *Service) Item(id string) (post.Item, error) {
	var out post.Item
	err := s.queue.View(id, func(it *post.Item) {
		out = *it
		out.Targets = append([]string(nil), it.Targets...)
		status := make(map[string]*post.TargetStatus, len(it.Status))
		for name, st := range it.Status {
			cp := *st
			status[name] = &cp
		}
		out.Status = status
	})
	if err != nil {
		return post.Item{}, err
	}
	return out, nil
}

// QueueStatus returns item counts by state.
func (s *Service) QueueStatus() QueueStatus {
	return statusFromCounts(s.queue.StatusCounts())
}

// JobMetrics returns aggregate publish statistics.
func (s *Service) JobMetrics() monitor.JobMetrics { return s.mon.Metrics() }

// HealthStatus evaluates engine health at the current time.
func (s *Service) HealthStatus() monitor.Health { return s.mon.HealthStatus(s.clock()) }

// FailedJobs lists terminally failed (item, target) records.
func (s *Service) FailedJobs() []monitor.FailedJob { return s.mon.FailedJobs() }

// RateCounts reports target's current hourly and daily dispatch counts.
func (s *Service) RateCounts(target string) (hourly, daily int) {
	return s.windows.Counts(target, s.clock())
}

// Snapshot returns diagnostics for the status surface.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	s.mu.Unlock()

	return Snapshot{
		Enabled:        cfg.Enabled,
		Workers:        cfg.Workers,
		Targets:        names,
		QueueLen:       s.queue.Len(),
		PendingIndexed: s.queue.Pending(),
		SessionsCached: s.sessions.Len(),
		Dispatched:     s.dispatched.Load(),
		DroppedFull:    s.droppedFull.Load(),
		DrainInterval:  cfg.DrainInterval,
	}
}

func (s *Service) cleanup() {
	now := s.clock()
	cfg := s.cfgNow()
	removed := s.queue.Sweep(now, cfg.CleanupHorizon)
	s.mon.Prune(now)
	if s.inst != nil {
		s.inst.SetQueueDepth(s.queue.Len())
	}
	if removed > 0 {
		s.log.Debug("swept terminal items", logx.Int("removed", removed))
	}
}
