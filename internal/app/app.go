// Package app wires the engine together: config manager, logging service,
// durable store, monitor, publishers, scheduler, and the HTTP observability
// surface.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"postpilot/internal/config"
	"postpilot/internal/eventbus"
	"postpilot/internal/monitor"
	"postpilot/internal/scheduler"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	st    store.Store
	mon   *monitor.Monitor
	reg   *prometheus.Registry
	inst  *monitor.Instruments
	sched *scheduler.Service
	http  *httpServer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	// Storage (optional).
	var st store.Store
	if sc, enabled, err := mapStoreConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err = store.Open(sc, log.With(logx.String("comp", "store")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	monCfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(monCfg)
	reg := prometheus.NewRegistry()
	inst := monitor.NewInstruments(reg)
	mon.SetInstruments(inst)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), scheduler.Deps{
		Monitor: mon,
		Bus:     bus,
		Store:   st,
		Inst:    inst,
	})

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
		mon:     mon,
		reg:     reg,
		inst:    inst,
		sched:   sched,
	}
	if err := a.registerTargets(cfg); err != nil {
		return nil, err
	}
	a.http = newHTTPServer(cfg.Metrics, reg, sched, log.With(logx.String("comp", "http")))
	return a, nil
}

// Scheduler exposes the engine for embedding callers (and tests).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) registerTargets(cfg *config.Config) error {
	for name, tc := range cfg.Targets {
		pub, creds, err := buildPublisher(name, tc)
		if err != nil {
			return err
		}
		a.sched.RegisterTarget(name, pub, creds)
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Reject hot reloads whose target set cannot be built.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMonitorConfig(cfg); err != nil {
			return err
		}
		for name, tc := range cfg.Targets {
			if _, _, err := buildPublisher(name, tc); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.sched.Start(); err != nil && err != scheduler.ErrDisabled {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			return fmt.Errorf("start http: %w", err)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.eventLog(runCtx)
	}()

	a.notifySystemd(runCtx)
	a.log.Info("postpilot started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.http != nil {
		a.http.Stop()
	}
	a.sched.Stop()
	a.wg.Wait()
	if a.st != nil {
		_ = a.st.Close()
	}
	a.log.Info("postpilot stopped")
	_ = a.logs.Close()
}

// reloadLoop applies committed config updates: logging first, then the
// services. Storage driver changes need a restart and only produce a warning.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if monCfg, err := mapMonitorConfig(cfg); err == nil {
		a.mon.Apply(monCfg)
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	if err := a.registerTargets(cfg); err != nil {
		a.log.Warn("target update failed; keeping previous publishers", logx.Err(err))
	}

	if changed, _ := config.SummarizeChange(old, cfg); contains(changed, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed, _ := config.SummarizeChange(old, cfg); contains(changed, "metrics") {
		a.log.Warn("metrics config changed; restart required for changes to take effect")
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

// eventLog tails the bus at debug level so lifecycle transitions show up in
// the structured log without each service logging twice.
func (a *App) eventLog(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event",
				logx.String("type", e.Type),
				logx.String("item", e.ItemID),
				logx.String("target", e.Target),
				logx.String("kind", e.Kind))
		}
	}
}

// notifySystemd signals readiness and feeds the watchdog when running under
// systemd; a no-op elsewhere.
func (a *App) notifySystemd(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
