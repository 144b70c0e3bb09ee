// Package transport provides the WebSocket JSON-RPC transport and the
// shared transport contract the BLE and CoAP transports implement.
//
// The transport layer handles:
//   - Dialing the device's /rpc WebSocket endpoint
//   - In-flight call correlation and per-call timeouts
//   - Digest challenge-response authentication with one-shot retry
//   - Idle-triggered heartbeat for dead-peer detection
//   - Accepting outbound connections from battery devices (Server)
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON-RPC frames           │
//	├────────────────────────────────┤
//	│        WebSocket /rpc          │
//	├────────────────────────────────┤
//	│            TCP                 │
//	└────────────────────────────────┘
//
// # Heartbeat
//
// The heartbeat only pings when the connection has been idle for a full
// interval; any received frame counts as liveness. This keeps quiet but
// healthy connections cheap for the device. The first check runs at half
// the interval after connect. A ping that misses its pong deadline
// force-closes the connection, which surfaces to the session as a
// disconnect.
package transport
