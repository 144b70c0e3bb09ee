package device

import (
	"errors"
	"strings"
)

// ErrMacAddressMismatch indicates the device answered with a MAC
// address different from the one the session was configured with.
// This is a configuration error and is never retried.
var ErrMacAddressMismatch = errors.New("mac address mismatch")

// Identity describes a device as reported by the capability probe or
// by Shelly.GetDeviceInfo.
type Identity struct {
	// ID is the device identifier, e.g. "shellyplus1-a8032ab12345".
	ID string `json:"id"`

	// MAC is the normalized MAC address (uppercase, no separators).
	MAC string `json:"mac"`

	// Model is the device model identifier.
	Model string `json:"model"`

	// Generation is the device generation. Devices that do not report
	// one are generation 1.
	Generation int `json:"gen"`

	// Firmware is the firmware identifier.
	Firmware string `json:"fw_id"`

	// AuthRequired reports whether the device demands authentication
	// for RPC access.
	AuthRequired bool `json:"auth_en"`

	// AuthDomain is the digest realm, usually equal to ID. Empty when
	// authentication is disabled.
	AuthDomain string `json:"auth_domain"`
}

// NormalizeMAC strips common separators and uppercases a MAC address
// so representations from different firmware generations compare
// equal.
func NormalizeMAC(mac string) string {
	r := strings.NewReplacer(":", "", "-", "", ".", "")
	return strings.ToUpper(r.Replace(mac))
}

// MatchesMAC reports whether the identity's MAC equals the given one
// after normalization. An empty expectation always matches.
func (i *Identity) MatchesMAC(mac string) bool {
	if mac == "" {
		return true
	}
	return NormalizeMAC(mac) == NormalizeMAC(i.MAC)
}
