package domain

import "errors"

var (
	ErrPortAlreadyExists = errors.New("port already exists")
	ErrEndpointNotFound  = errors.New("endpoint not found")
	ErrInvalidPort       = errors.New("invalid port")
	ErrStoreUnavailable  = errors.New("traffic store unavailable")
)

// Endpoint is a listening port configured on the proxy.
type Endpoint struct {
	Port     int    `json:"port"`
	Path     string `json:"path"`
	ClientID string `json:"client_id"`
	Tag      string `json:"tag,omitempty"`
}

func ValidPort(port int) bool {
	return port > 0 && port <= 65535
}
