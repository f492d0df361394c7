package transport

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Generous enough
	// for an inline base64 photo upload.
	maxFrameBytes = 1 << 20 // 1 MiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// Max decoded image payload accepted for description.
	maxImageBytes = 512 << 10
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
