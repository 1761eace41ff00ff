package domain

import "time"

// ConnectionEvent is a single accepted connection observed in the proxy
// access log.
type ConnectionEvent struct {
	ID           uint64    `json:"id"`
	ObservedAt   time.Time `json:"observed_at"`
	Protocol     string    `json:"protocol"`
	TargetDomain string    `json:"target_domain"`
	TargetPort   int       `json:"target_port,omitempty"`
	Peer         string    `json:"peer,omitempty"`
	InboundTag   string    `json:"inbound_tag,omitempty"`
	SizeEstimate int64     `json:"size_estimate"`
}
