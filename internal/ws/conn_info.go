package ws

import "time"

// ConnInfo holds request metadata captured at handshake for logs and events.
type ConnInfo struct {
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	UserAgent   string
	ConnectedAt time.Time
}
