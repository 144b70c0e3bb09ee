// Package auth implements the digest-style challenge-response
// authentication used by Gen2 devices.
//
// The device issues a nonce inside a 401 error; the client proves
// knowledge of the password with a chain of SHA-256 hashes without ever
// transmitting it. The scheme authenticates the session rather than an
// HTTP request line, so ha2 hashes a fixed placeholder method and URI.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Digest parameters.
const (
	// DefaultUsername is the only account Gen2 devices expose.
	DefaultUsername = "admin"

	// Algorithm is the digest hash algorithm name on the wire.
	Algorithm = "SHA-256"

	// qop is the quality-of-protection token mixed into the response hash.
	qop = "auth"
)

// Auth errors.
var (
	// ErrNoCredentials indicates a challenge arrived but no password is
	// configured, so no retry is possible.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrInvalidChallenge indicates a 401 whose message did not carry a
	// parseable challenge.
	ErrInvalidChallenge = errors.New("invalid auth challenge")
)

// ha2 is constant: the placeholder request line hashed once.
var ha2 = hexSHA256("dummy_method:dummy_uri")

// Challenge is the device-issued digest challenge, carried as JSON inside
// the 401 error message.
type Challenge struct {
	AuthType  string `json:"auth_type,omitempty"`
	Nonce     uint64 `json:"nonce"`
	NC        uint64 `json:"nc"`
	Realm     string `json:"realm,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

// ParseChallenge extracts a challenge from a 401 error message.
func ParseChallenge(message string) (*Challenge, error) {
	var ch Challenge
	if err := json.Unmarshal([]byte(message), &ch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	if ch.Nonce == 0 {
		return nil, fmt.Errorf("%w: missing nonce", ErrInvalidChallenge)
	}
	if ch.NC == 0 {
		ch.NC = 1
	}
	return &ch, nil
}

// Credential is the auth object attached to a retried request.
type Credential struct {
	Realm     string `json:"realm"`
	Username  string `json:"username"`
	Nonce     uint64 `json:"nonce"`
	CNonce    uint64 `json:"cnonce"`
	Response  string `json:"response"`
	NC        uint64 `json:"nc"`
	Algorithm string `json:"algorithm"`
}

// Negotiator computes challenge responses for one credential set.
// ha1 is computed once per realm and cached.
type Negotiator struct {
	mu sync.Mutex

	username string
	password string

	// Cached ha1 and the realm it was computed for.
	realm string
	ha1   string

	// cnonce generator, replaceable in tests.
	cnonce func() uint64
}

// NewNegotiator creates a negotiator for the given password using the
// default username. An empty password means no credentials are stored.
func NewNegotiator(password string) *Negotiator {
	return &Negotiator{
		username: DefaultUsername,
		password: password,
		cnonce:   randomCNonce,
	}
}

// HasCredentials reports whether a password is configured.
func (n *Negotiator) HasCredentials() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.password != ""
}

// BuildResponse computes the credential for a challenge.
// Returns ErrNoCredentials if no password is configured.
func (n *Negotiator) BuildResponse(ch *Challenge) (*Credential, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.password == "" {
		return nil, ErrNoCredentials
	}

	realm := ch.Realm
	if realm == "" {
		realm = n.realm
	}
	if realm != n.realm || n.ha1 == "" {
		n.realm = realm
		n.ha1 = hexSHA256(n.username + ":" + realm + ":" + n.password)
	}

	cnonce := n.cnonce()
	resp := hexSHA256(n.ha1 + ":" +
		strconv.FormatUint(ch.Nonce, 10) + ":" +
		strconv.FormatUint(ch.NC, 10) + ":" +
		strconv.FormatUint(cnonce, 10) + ":" +
		qop + ":" + ha2)

	return &Credential{
		Realm:     realm,
		Username:  n.username,
		Nonce:     ch.Nonce,
		CNonce:    cnonce,
		Response:  resp,
		NC:        ch.NC,
		Algorithm: Algorithm,
	}, nil
}

// hexSHA256 returns the lowercase hex SHA-256 of s.
func hexSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// randomCNonce draws a random client nonce.
func randomCNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	// Keep it in the positive int64 range for JSON friendliness.
	return binary.BigEndian.Uint64(b[:]) >> 1
}
