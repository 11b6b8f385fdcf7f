package config

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks structural correctness: duration fields parse, targets have
// a known adapter kind and the fields that kind requires, and rate overrides
// reference configured targets.
func (c *Config) Validate() error {
	durations := []struct{ path, raw string }{
		{"scheduler.drain_interval", c.Scheduler.DrainInterval},
		{"scheduler.login_timeout", c.Scheduler.LoginTimeout},
		{"scheduler.publish_timeout", c.Scheduler.PublishTimeout},
		{"scheduler.session_ttl", c.Scheduler.SessionTTL},
		{"scheduler.cleanup_horizon", c.Scheduler.CleanupHorizon},
		{"scheduler.cleanup_every", c.Scheduler.CleanupEvery},
		{"scheduler.checkpoint_every", c.Scheduler.CheckpointEvery},
		{"retry.base_delay", c.Retry.BaseDelay},
		{"monitor.horizon", c.Monitor.Horizon},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Monitor.FailureRateMax < 0 || c.Monitor.FailureRateMax > 1 {
		return fmt.Errorf("monitor.failure_rate_max: must be within [0, 1]")
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		case "redis":
			if c.Storage.Redis == nil || strings.TrimSpace(c.Storage.Redis.Addr) == "" {
				return fmt.Errorf("storage.redis.addr: required for the redis driver")
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	for _, name := range sortedTargetNames(c.Targets) {
		tc := c.Targets[name]
		prefix := "targets." + name
		if _, err := ParseDurationField(prefix+".timeout", tc.Timeout); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
		case "telegram":
			if strings.TrimSpace(tc.Token) == "" {
				return fmt.Errorf("%s.token: required for telegram targets", prefix)
			}
			if strings.TrimSpace(tc.Chat) == "" {
				return fmt.Errorf("%s.chat: required for telegram targets", prefix)
			}
		case "webhook":
			if strings.TrimSpace(tc.PublishURL) == "" {
				return fmt.Errorf("%s.publish_url: required for webhook targets", prefix)
			}
		default:
			return fmt.Errorf("%s.kind: unknown adapter kind %q", prefix, tc.Kind)
		}
	}

	for name := range c.Rate.Targets {
		if _, ok := c.Targets[name]; !ok {
			return fmt.Errorf("rate.targets.%s: no such target configured", name)
		}
	}
	return nil
}

func sortedTargetNames(m map[string]TargetConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
