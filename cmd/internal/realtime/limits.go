package realtime

import "time"

// Relay limits. PODIUM_WS_* variables override the tunable ones.
const (
	// Hard limit per websocket frame read.
	maxFrameBytes = 64 << 10 // 64 KiB

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Backend persistence budget per sendMsg.
	wsSinkTimeout = 5 * time.Second
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
