package ble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/home-assistant-libs/shelly-go/pkg/rpc"
	"github.com/home-assistant-libs/shelly-go/pkg/transport"
)

// Compile-time interface satisfaction check.
var _ transport.Caller = (*Transport)(nil)

// GATT service and characteristic UUIDs of the RPC service.
const (
	// ServiceUUID is the custom 128-bit RPC service.
	ServiceUUID = "5f6d4f53-5f52-5043-5f53-56435f49445f"

	// CharData carries request and response payload bytes.
	CharData = "5f6d4f53-5f52-5043-5f64-6174615f5f5f"

	// CharTxCtl receives the outbound frame length.
	CharTxCtl = "5f6d4f53-5f52-5043-5f74-785f63746c5f"

	// CharRxCtl advertises the inbound frame length.
	CharRxCtl = "5f6d4f53-5f52-5043-5f72-785f63746c5f"
)

// Polling defaults for the rx-control readiness loop.
const (
	// DefaultPollInterval is the delay between rx-control reads.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultPollAttempts bounds the number of rx-control reads.
	DefaultPollAttempts = 40
)

// Transport errors.
var (
	// ErrCharacteristicNotFound indicates the RPC service or one of its
	// characteristics is missing even after a cache-cleared reconnect.
	ErrCharacteristicNotFound = errors.New("RPC characteristic not found")

	// ErrNoResponse indicates the rx-control poll budget ran out with
	// the device never reporting a response.
	ErrNoResponse = errors.New("no RPC response")

	// ErrResponseIDMismatch indicates a response whose id does not match
	// the request.
	ErrResponseIDMismatch = errors.New("response id mismatch")

	// ErrDeviceConnection wraps GATT link failures. Retryable.
	ErrDeviceConnection = errors.New("device connection error")

	// ErrDeviceConnectionTimeout wraps GATT operation timeouts.
	ErrDeviceConnectionTimeout = errors.New("device connection timeout")

	// ErrNotConnected indicates a call before Connect.
	ErrNotConnected = errors.New("not connected")
)

// Gatt abstracts the BLE link operations the transport needs.
// Implemented by the go-ble adapter (NewGatt); tests use a fake.
type Gatt interface {
	// Connect establishes the link to the peripheral.
	Connect(ctx context.Context) error

	// Discover verifies the RPC service and its three characteristics
	// exist, returning ErrCharacteristicNotFound when any is missing.
	Discover(ctx context.Context) error

	// ClearCache drops the cached service description so the next
	// Discover re-reads it from the device.
	ClearCache()

	// Write writes data to the characteristic with the given UUID.
	Write(ctx context.Context, char string, data []byte) error

	// Read reads the characteristic with the given UUID.
	Read(ctx context.Context, char string) ([]byte, error)

	// Disconnect tears the link down. Idempotent.
	Disconnect() error
}

// Config configures the BLE transport.
type Config struct {
	// ClientName prefixes the generated src identifier.
	ClientName string

	// ChunkSize overrides the write chunk size. Zero means
	// DefaultChunkSize.
	ChunkSize int

	// PollInterval and PollAttempts tune the rx-control readiness loop.
	// Zero values use the defaults.
	PollInterval time.Duration
	PollAttempts int

	// Logger receives transport diagnostics. Nil means silent.
	Logger *slog.Logger
}

// Transport is the BLE GATT RPC transport.
//
// Calls are strictly serialized: the characteristic protocol has no
// correlation on the wire beyond the response id check, so one exchange
// runs at a time.
type Transport struct {
	mu     sync.Mutex
	callMu sync.Mutex

	gatt      Gatt
	src       string
	connected bool
	nextID    uint32

	chunkSize    int
	pollInterval time.Duration
	pollAttempts int
	logger       *slog.Logger
}

// NewTransport creates a BLE transport over the given GATT link.
func NewTransport(gatt Gatt, cfg Config) *Transport {
	if cfg.ClientName == "" {
		cfg.ClientName = "shelly-go"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Transport{
		gatt:         gatt,
		src:          cfg.ClientName + "-" + uuid.NewString()[:8],
		chunkSize:    cfg.ChunkSize,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		logger:       logger,
	}
}

// Connect establishes the link and verifies the RPC service. A missing
// characteristic clears the device's cached service description and
// retries the whole connect exactly once; a second failure is fatal.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	err := t.connectOnce(ctx)
	if errors.Is(err, ErrCharacteristicNotFound) {
		t.logger.Debug("RPC characteristic missing, clearing cache and retrying")
		t.gatt.ClearCache()
		t.gatt.Disconnect()
		err = t.connectOnce(ctx)
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// connectOnce is one connect-and-verify attempt.
func (t *Transport) connectOnce(ctx context.Context) error {
	if err := t.gatt.Connect(ctx); err != nil {
		return t.wrapLink(err)
	}
	if err := t.gatt.Discover(ctx); err != nil {
		if errors.Is(err, ErrCharacteristicNotFound) {
			return err
		}
		return t.wrapLink(err)
	}
	return nil
}

// Disconnect tears the link down. Idempotent.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return t.gatt.Disconnect()
}

// Call issues an RPC over the GATT characteristics and waits for the
// response.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.mu.Unlock()

	t.callMu.Lock()
	defer t.callMu.Unlock()

	t.nextID++
	id := t.nextID

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		rawParams = data
	}

	req := &rpc.Request{ID: id, Method: method, Params: rawParams, Src: t.src}
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}

	if err := t.writeRequest(ctx, payload); err != nil {
		return nil, err
	}

	length, err := t.pollResponseLength(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := t.readResponse(ctx, length)
	if err != nil {
		return nil, err
	}

	return t.parseResponse(raw, id)
}

// writeRequest writes the length prefix to tx-control, then the payload
// to the data characteristic in chunks.
func (t *Transport) writeRequest(ctx context.Context, payload []byte) error {
	if err := t.gatt.Write(ctx, CharTxCtl, EncodeLength(len(payload))); err != nil {
		return t.wrapLink(err)
	}
	for _, chunk := range Chunks(payload, t.chunkSize) {
		if err := t.gatt.Write(ctx, CharData, chunk); err != nil {
			return t.wrapLink(err)
		}
	}
	return nil
}

// pollResponseLength polls rx-control until it reports a non-zero
// length. Zero means "not ready"; only exhausting the attempt budget is
// an error.
func (t *Transport) pollResponseLength(ctx context.Context) (uint32, error) {
	for attempt := 0; attempt < t.pollAttempts; attempt++ {
		data, err := t.gatt.Read(ctx, CharRxCtl)
		if err != nil {
			return 0, t.wrapLink(err)
		}
		n, err := DecodeLength(data)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %v", ErrDeviceConnectionTimeout, ctx.Err())
		case <-time.After(t.pollInterval):
		}
	}
	return 0, ErrNoResponse
}

// readResponse accumulates data reads until the advertised length is
// reached or a read comes back empty, then finalizes the frame.
func (t *Transport) readResponse(ctx context.Context, length uint32) ([]byte, error) {
	asm := NewAssembler(length)
	for !asm.Complete() {
		data, err := t.gatt.Read(ctx, CharData)
		if err != nil {
			return nil, t.wrapLink(err)
		}
		if len(data) == 0 {
			break
		}
		asm.Add(data)
	}
	return asm.Bytes()
}

// parseResponse validates and unwraps the response frame.
func (t *Transport) parseResponse(raw []byte, id uint32) (json.RawMessage, error) {
	frame, err := rpc.DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	resp, err := frame.Response()
	if err != nil {
		return nil, err
	}
	if resp.ID != id {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrResponseIDMismatch, resp.ID, id)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// wrapLink maps a GATT failure into the transport error taxonomy.
func (t *Transport) wrapLink(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDeviceConnectionTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceConnection, err)
}
