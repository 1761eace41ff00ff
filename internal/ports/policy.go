package ports

import "time"

type Policy struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	ProbeHost       string        `yaml:"probe_host"`
	EventCapacity   int           `yaml:"event_capacity"`
	HistoryWindow   int           `yaml:"history_window"`
	MaxHistoryLimit int           `yaml:"max_history_limit"`
	TickConcurrency int           `yaml:"tick_concurrency"`

	// ProbeAlertAfter is the number of consecutive failed probes after which
	// an endpoint is reported as down in the logs. Negative disables it.
	ProbeAlertAfter int `yaml:"probe_alert_after"`
}
