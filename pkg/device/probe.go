package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// DefaultProbeTimeout bounds a single probe attempt.
const DefaultProbeTimeout = 10 * time.Second

// ErrProbeFailed indicates the device did not answer the capability
// probe with a usable payload.
var ErrProbeFailed = errors.New("capability probe failed")

// probePayload accepts both the generation 1 and the generation 2+
// shapes of the /shelly response.
type probePayload struct {
	ID         string `json:"id"`
	MAC        string `json:"mac"`
	Model      string `json:"model"`
	Type       string `json:"type"`
	Generation int    `json:"gen"`
	AuthEn     bool   `json:"auth_en"`
	Auth       bool   `json:"auth"`
	FirmwareID string `json:"fw_id"`
	Firmware   string `json:"fw"`
	AuthDomain string `json:"auth_domain"`
}

// Probe queries http://<host>/shelly and returns the device identity.
// The probe must complete before a transport is chosen, since the
// reported generation decides between CoIoT and WebSocket RPC.
//
// A timeout or transient connection error is retried exactly once
// before surfacing. A nil client falls back to a default one bounded
// by DefaultProbeTimeout.
func Probe(ctx context.Context, client *http.Client, host string) (*Identity, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}

	ident, err := probeOnce(ctx, client, host)
	if err != nil && retryable(err) {
		ident, err = probeOnce(ctx, client, host)
	}
	return ident, err
}

func probeOnce(ctx context.Context, client *http.Client, host string) (*Identity, error) {
	u := url.URL{Scheme: "http", Host: host, Path: "/shelly"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrProbeFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}

	var p probePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	return p.identity(), nil
}

// identity maps the raw payload onto the common model. Generation 1
// firmware omits the gen field and uses type/auth/fw instead of
// model/auth_en/fw_id.
func (p *probePayload) identity() *Identity {
	ident := &Identity{
		ID:         p.ID,
		MAC:        NormalizeMAC(p.MAC),
		Model:      p.Model,
		Generation: p.Generation,
		Firmware:   p.FirmwareID,
		AuthDomain: p.AuthDomain,
	}
	if ident.Generation == 0 {
		ident.Generation = 1
	}
	if ident.Model == "" {
		ident.Model = p.Type
	}
	if ident.Firmware == "" {
		ident.Firmware = p.Firmware
	}
	ident.AuthRequired = p.AuthEn || p.Auth
	if ident.AuthRequired && ident.AuthDomain == "" {
		ident.AuthDomain = ident.ID
	}
	return ident
}

// retryable reports whether a probe error is worth one more attempt:
// timeouts and transient connection errors only. A peer dropping the
// connection mid-request surfaces as a url.Error wrapping io.EOF
// rather than a net.OpError, so the bare stream errors count too.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var operr *net.OpError
	return errors.As(err, &operr)
}
