// Package coap implements the CoIoT subset of CoAP spoken by legacy
// generation-1 devices.
//
// This is not a general-purpose CoAP stack: it encodes exactly the
// request shape the devices answer (a GET with Uri-Path "cit"/"d" or
// "cit"/"s") and decodes exactly the two response codes they emit
// (a periodic status publish and a direct content reply).
//
// # Datagram Layout
//
//	┌──────────────────────────────┐
//	│ 4-byte header                │  version, type, TKL, code, msg id
//	├──────────────────────────────┤
//	│ options (delta-encoded TLV)  │  nibble escapes 13 / 14
//	├──────────────────────────────┤
//	│ 0xFF payload marker          │
//	├──────────────────────────────┤
//	│ JSON payload                 │  mandatory
//	└──────────────────────────────┘
//
// Malformed datagrams are contained at the decode boundary: the receive
// loop logs and drops them and keeps running.
//
// Requests travel over a UDP socket joined to the multicast group
// 224.0.1.187; replies and periodic publishes arrive on the same socket
// and are routed to sessions by source address.
package coap
