// Package session implements the per-device session that drives
// initialization, request dispatch and notification delivery on top of
// a transport.
//
//	caller ──► DeviceSession ──► transport (WS / BLE / CoIoT)
//	               │  ▲
//	               │  │ frames, datagrams
//	               ▼  │
//	          Demultiplexer ◄── shared listeners (WS server, CoIoT)
//
// A DeviceSession owns exactly one transport and one cached
// status/config document. It is initialized explicitly via Initialize,
// or implicitly when a sleeping device makes first contact through a
// shared listener, in which case initialization runs in the background
// while the device still has its link open.
//
// The Demultiplexer is the only state shared between sessions. It maps
// a device identity to the active session so the CoIoT listener and
// the server-mode WebSocket endpoint can route inbound traffic.
// Subscribers receive every accepted update exactly once, tagged with
// its kind; status deltas are merged into the cached document before
// delivery.
package session
