// Package realtime runs the authenticated WebSocket channel.
//
// A Guard admits or refuses each handshake once, before the upgrade. Admitted
// connections become Sessions tracked by the Hub; inbound frames are decoded
// (binary frames through the gzip Codec), rate limited, then dispatched to
// the registered handlers.
package realtime
