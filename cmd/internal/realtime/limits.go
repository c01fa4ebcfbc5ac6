package realtime

import "time"

// Defaults; the app overrides them from PLUG_WS_* settings.
const (
	// Read limit per frame, also the inflated-size limit of the codec.
	defaultMaxMessageBytes = 100_000_000

	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 60 * time.Second

	// Per-connection inbound events.
	defaultEventsPerSec = 20
	defaultEventsBurst  = 40

	defaultSendQueueSize = 256
	minSendQueueSize     = 32
	defaultWriteTimeout  = 5 * time.Second
	closeGrace           = 1 * time.Second

	maxPingFailures = 3
)
