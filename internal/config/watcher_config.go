package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

const pollIntervalVar = "WATCH_POLL_INTERVAL"

const defaultPollInterval = 5 * time.Second

type WatcherConfig interface {
	GetPollInterval() time.Duration
}

type Watcher struct{}

var _ WatcherConfig = Watcher{}

func (Watcher) GetPollInterval() time.Duration {
	raw := GetEnv(pollIntervalVar, "")
	if raw == "" {
		return defaultPollInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("value", raw).Msg("invalid " + pollIntervalVar + ", using default")
		return defaultPollInterval
	}
	return d
}
