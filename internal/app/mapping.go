package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/monitor"
	"postpilot/internal/publish"
	"postpilot/internal/ratewindow"
	"postpilot/internal/retry"
	"postpilot/internal/scheduler"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// The config file carries durations as strings; these mappers parse them into
// the typed configs the services consume, rejecting bad values before any
// service sees them.

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	out := scheduler.Config{
		Enabled:        sc.Enabled,
		Workers:        sc.Workers,
		QueueSize:      sc.QueueSize,
		DispatchPerSec: sc.DispatchPerSec,
		Rate:           mapRateConfig(cfg),
	}

	var err error
	if out.DrainInterval, err = config.ParseDurationField("scheduler.drain_interval", sc.DrainInterval); err != nil {
		return out, err
	}
	if out.LoginTimeout, err = config.ParseDurationField("scheduler.login_timeout", sc.LoginTimeout); err != nil {
		return out, err
	}
	if out.PublishTimeout, err = config.ParseDurationField("scheduler.publish_timeout", sc.PublishTimeout); err != nil {
		return out, err
	}
	if out.SessionTTL, err = config.ParseDurationField("scheduler.session_ttl", sc.SessionTTL); err != nil {
		return out, err
	}
	if out.CleanupHorizon, err = config.ParseDurationField("scheduler.cleanup_horizon", sc.CleanupHorizon); err != nil {
		return out, err
	}
	if out.CleanupEvery, err = config.ParseDurationField("scheduler.cleanup_every", sc.CleanupEvery); err != nil {
		return out, err
	}
	if out.CheckpointEvery, err = config.ParseDurationField("scheduler.checkpoint_every", sc.CheckpointEvery); err != nil {
		return out, err
	}
	if out.Retry, err = mapRetryPolicy(cfg); err != nil {
		return out, err
	}
	return out, nil
}

func mapRateConfig(cfg *config.Config) ratewindow.Config {
	out := ratewindow.Config{
		Default: ratewindow.Caps{Hourly: cfg.Rate.Hourly, Daily: cfg.Rate.Daily},
	}
	if len(cfg.Rate.Targets) > 0 {
		out.Targets = make(map[string]ratewindow.Caps, len(cfg.Rate.Targets))
		for name, caps := range cfg.Rate.Targets {
			out.Targets[name] = ratewindow.Caps{Hourly: caps.Hourly, Daily: caps.Daily}
		}
	}
	return out
}

func mapRetryPolicy(cfg *config.Config) (retry.Policy, error) {
	base, err := config.ParseDurationField("retry.base_delay", cfg.Retry.BaseDelay)
	if err != nil {
		return retry.Policy{}, err
	}
	p := retry.DefaultPolicy()
	if base > 0 {
		p.BaseDelay = base
	}
	if cfg.Retry.MaxRetries > 0 {
		p.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.UnknownReviewAfter > 0 {
		p.UnknownReviewAfter = cfg.Retry.UnknownReviewAfter
	}
	return p, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	horizon, err := config.ParseDurationField("monitor.horizon", cfg.Monitor.Horizon)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		FailureRateMax: cfg.Monitor.FailureRateMax,
		FailedItemsMax: cfg.Monitor.FailedItemsMax,
		Horizon:        horizon,
	}, nil
}

// mapStoreConfig returns (storeConfig, enabled, err); a nil Storage section
// means persistence is off.
func mapStoreConfig(cfg *config.Config) (store.Config, bool, error) {
	if cfg.Storage == nil {
		return store.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return store.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, false, err
	}
	out := store.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}
	if cfg.Storage.Redis != nil {
		out.Redis = store.RedisConfig{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		}
	}
	return out, true, nil
}

// buildPublisher constructs the adapter for one configured target.
func buildPublisher(name string, tc config.TargetConfig) (publish.Publisher, publish.Credentials, error) {
	timeout, err := config.ParseDurationOrDefault("targets."+name+".timeout", tc.Timeout, 10*time.Second)
	if err != nil {
		return nil, publish.Credentials{}, err
	}

	switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
	case "telegram":
		chatID, err := strconv.ParseInt(strings.TrimSpace(tc.Chat), 10, 64)
		if err != nil {
			return nil, publish.Credentials{}, fmt.Errorf("targets.%s.chat: invalid chat id %q: %w", name, tc.Chat, err)
		}
		pub := publish.NewTelegramPublisher(chatID, timeout)
		return pub, publish.Credentials{Token: tc.Token}, nil

	case "webhook":
		pub := publish.NewWebhookPublisher(tc.LoginURL, tc.PublishURL, timeout)
		creds := publish.Credentials{
			Username: tc.Username,
			Password: tc.Password,
			Token:    tc.Token,
		}
		return pub, creds, nil

	default:
		return nil, publish.Credentials{}, fmt.Errorf("targets.%s.kind: unknown adapter kind %q", name, tc.Kind)
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
}
