package scheduler

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls scheduler intervals and job timeouts.
type Config struct {
	RunInterval            time.Duration
	ReconcileInterval      time.Duration
	MappingRefreshInterval time.Duration
	JobTimeout             time.Duration
	EnabledJobs            []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:            time.Minute,
		ReconcileInterval:      time.Hour,
		MappingRefreshInterval: 6 * time.Hour,
		JobTimeout:             10 * time.Minute,
	}
}

func ProvideConfig() Config {
	cfg := DefaultConfig()
	if v := getenvSeconds("SCHEDULER_RUN_INTERVAL_SECONDS"); v > 0 {
		cfg.RunInterval = v
	}
	if v := getenvSeconds("SCHEDULER_RECONCILE_INTERVAL_SECONDS"); v > 0 {
		cfg.ReconcileInterval = v
	}
	if v := getenvSeconds("SCHEDULER_MAPPING_REFRESH_INTERVAL_SECONDS"); v > 0 {
		cfg.MappingRefreshInterval = v
	}
	if v := getenvSeconds("SCHEDULER_JOB_TIMEOUT_SECONDS"); v > 0 {
		cfg.JobTimeout = v
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); raw != "" {
		for _, job := range strings.Split(raw, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = defaults.ReconcileInterval
	}
	if c.MappingRefreshInterval <= 0 {
		c.MappingRefreshInterval = defaults.MappingRefreshInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func getenvSeconds(key string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
