package config

import (
	"reflect"
	"sort"
	"strings"

	logx "postpilot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, passwords) are reported only
// as set/unset so reload logs never leak credentials.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Int("scheduler.dispatch_per_sec", newCfg.Scheduler.DispatchPerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Rate, newCfg.Rate) {
		changed = append(changed, "rate")
		attrs = append(attrs,
			logx.Int("rate.hourly", newCfg.Rate.Hourly),
			logx.Int("rate.daily", newCfg.Rate.Daily),
			logx.Int("rate.overrides", len(newCfg.Rate.Targets)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retry, newCfg.Retry) {
		changed = append(changed, "retry")
		attrs = append(attrs,
			logx.String("retry.base_delay", strings.TrimSpace(newCfg.Retry.BaseDelay)),
			logx.Int("retry.max_retries", newCfg.Retry.MaxRetries),
		)
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.Float64("monitor.failure_rate_max", newCfg.Monitor.FailureRateMax),
			logx.Int("monitor.failed_items_max", newCfg.Monitor.FailedItemsMax),
		)
	}

	if storageChanged(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		var pathSet bool
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
			pathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
		}
		attrs = append(attrs,
			logx.String("storage.driver", driver),
			logx.Bool("storage.path_set", pathSet),
		)
	}

	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	if targets := diffTargets(oldCfg.Targets, newCfg.Targets); len(targets) > 0 {
		changed = append(changed, "targets")
		attrs = append(attrs,
			logx.Int("targets.changed_count", len(targets)),
			logx.String("targets.changed", strings.Join(targets, ",")),
			logx.Int("targets.count", len(newCfg.Targets)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func storageChanged(o, n *StorageConfig) bool {
	if (o == nil) != (n == nil) {
		return true
	}
	if o == nil {
		return false
	}
	return !reflect.DeepEqual(*o, *n)
}

func diffTargets(oldM, newM map[string]TargetConfig) []string {
	set := map[string]struct{}{}
	for name := range oldM {
		set[name] = struct{}{}
	}
	for name := range newM {
		set[name] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		if !reflect.DeepEqual(oldM[name], newM[name]) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
