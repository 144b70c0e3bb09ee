// Package rpc implements the Gen2 JSON-RPC wire model shared by the
// WebSocket and BLE transports.
//
// This package handles:
//   - Request/response/notification frame types and classification
//   - Device-reported RPC errors with code and message
//   - Correlation of in-flight calls to their responses (Registry)
//
// # Frame Classification
//
// An incoming frame is classified by which fields are present:
//
//	method + id  -> peer-initiated call
//	method only  -> notification
//	id only      -> response to a pending call
//	neither      -> malformed
//
// # Call Correlation
//
// Each outbound request gets a session-unique, monotonically increasing id.
// The Registry owns the pending slot until the call resolves, fails, or the
// session closes. A cancelled (timed-out) slot stays registered so a late
// response is recognized and discarded instead of surfacing as an
// unrelated error.
package rpc
