// Package config loads Minder configuration from the environment.
package config

import "time"

// Config holds the runtime settings for the minder process.
type Config struct {
	// HTTPAddr is the listen address for the API server.
	HTTPAddr string `env:"MINDER_HTTP_ADDR" envDefault:":8080"`

	// EventsDBPath is the SQLite file holding the append-only event log.
	EventsDBPath string `env:"MINDER_EVENTS_DB_PATH" envDefault:"minder-events.db"`

	// ProjectionsDBPath is the SQLite file holding the derived read models.
	ProjectionsDBPath string `env:"MINDER_PROJECTIONS_DB_PATH" envDefault:"minder-projections.db"`

	// SnoozeWakeSchedule is the cron spec for waking snoozed tasks.
	SnoozeWakeSchedule string `env:"MINDER_SNOOZE_WAKE_SCHEDULE" envDefault:"*/5 * * * *"`

	// DedupFanout propagates blocked_by links across dedup group members.
	DedupFanout bool `env:"MINDER_DEDUP_FANOUT" envDefault:"false"`

	// ExperimentTimeout bounds control-plane experiment evaluation.
	ExperimentTimeout time.Duration `env:"MINDER_EXPERIMENT_TIMEOUT" envDefault:"30s"`

	// OTelEnabled turns on trace export when set.
	OTelEnabled bool `env:"MINDER_OTEL_ENABLED" envDefault:"false"`

	// OTelEndpoint is the OTLP/HTTP collector endpoint.
	OTelEndpoint string `env:"MINDER_OTEL_ENDPOINT" envDefault:"localhost:4318"`
}

// Load parses the full Minder configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
