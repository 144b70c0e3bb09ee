// Package device holds the device identity model and the HTTP
// capability probe that must run before a transport is chosen.
//
// The probe queries the fixed /shelly endpoint, which every device
// generation answers unauthenticated. Its response determines the
// generation (and therefore the transport: CoIoT for generation 1,
// WebSocket RPC for generation 2 and later) and whether the device
// requires authentication.
//
// The package also decodes the CoIoT device description into a closed
// set of block kinds with their attached sensors, used by sessions
// driving generation 1 devices.
package device
