// Package ble implements the GATT RPC transport.
//
// The device exposes one custom 128-bit service with three
// characteristics: data, tx-control and rx-control. Both directions use
// a 4-byte big-endian length prefix followed by the JSON payload,
// written and read in MTU-sized chunks.
//
// # Call Sequence
//
//  1. Write the request byte length to tx-control.
//  2. Write the request payload to data, chunk by chunk.
//  3. Poll rx-control at a fixed interval until it reports a non-zero
//     response length (zero means "not ready", not an error).
//  4. Read data repeatedly, accumulating bytes, until the advertised
//     length is reached or a read comes back empty.
//
// Some firmware revisions advertise a corrupted response length. A
// response that is shorter than advertised but already parses as
// complete JSON is accepted; that accommodation is deliberately narrow
// and applies nowhere else in the codec.
package ble
