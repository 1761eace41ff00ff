package domain

import "time"

// EndpointSnapshot is derived on every read and never stored.
type EndpointSnapshot struct {
	Endpoint
	Online     bool            `json:"online"`
	Reachable  bool            `json:"reachable"`
	Samples    []TrafficSample `json:"samples"`
	Latest     *TrafficSample  `json:"latest,omitempty"`
	HistoryErr string          `json:"history_error,omitempty"`
}

// HostStats describes the machine the proxy runs on. Known is false when
// the values could not be read.
type HostStats struct {
	Known      bool    `json:"known"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
}

type SystemSnapshot struct {
	GeneratedAt   time.Time          `json:"generated_at"`
	ProxyRunning  bool               `json:"proxy_running"`
	Endpoints     []EndpointSnapshot `json:"endpoints"`
	Events        []ConnectionEvent  `json:"events"`
	EventCount    int                `json:"event_count"`
	TotalUplink   uint64             `json:"total_uplink"`
	TotalDownlink uint64             `json:"total_downlink"`
	// Partial is set when at least one endpoint contributed no history to
	// the totals.
	Partial bool      `json:"partial"`
	Host    HostStats `json:"host"`
	// EndpointsError is set when the endpoint list could not be read; the
	// rest of the snapshot is still filled in.
	EndpointsError string `json:"endpoints_error,omitempty"`
}
