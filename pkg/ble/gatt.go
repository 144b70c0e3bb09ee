package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
)

// gatt adapts a go-ble device to the Gatt interface.
type gatt struct {
	mu sync.Mutex

	device ble.Device
	addr   ble.Addr

	client ble.Client
	chars  map[string]*ble.Characteristic
}

// NewGatt creates a Gatt backed by go-ble. The caller supplies the
// platform HCI device; construction of that device is platform-specific
// and out of this package's hands.
func NewGatt(device ble.Device, addr string) Gatt {
	return &gatt{
		device: device,
		addr:   ble.NewAddr(addr),
	}
}

// Connect dials the peripheral.
func (g *gatt) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return nil
	}
	client, err := g.device.Dial(ctx, g.addr)
	if err != nil {
		return err
	}
	g.client = client
	return nil
}

// Discover locates the RPC service and its three characteristics,
// reusing the cached profile when present.
func (g *gatt) Discover(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		return ErrNotConnected
	}
	if g.chars != nil {
		return nil
	}

	profile, err := g.client.DiscoverProfile(true)
	if err != nil {
		return err
	}

	serviceUUID := ble.MustParse(ServiceUUID)
	var service *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(serviceUUID) {
			service = s
			break
		}
	}
	if service == nil {
		return fmt.Errorf("%w: service %s", ErrCharacteristicNotFound, ServiceUUID)
	}

	chars := make(map[string]*ble.Characteristic, 3)
	for _, want := range []string{CharData, CharTxCtl, CharRxCtl} {
		u := ble.MustParse(want)
		for _, c := range service.Characteristics {
			if c.UUID.Equal(u) {
				chars[want] = c
				break
			}
		}
		if chars[want] == nil {
			return fmt.Errorf("%w: %s", ErrCharacteristicNotFound, want)
		}
	}

	g.chars = chars
	return nil
}

// ClearCache drops the cached service description.
func (g *gatt) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chars = nil
}

// Write writes to a discovered characteristic.
func (g *gatt) Write(ctx context.Context, char string, data []byte) error {
	client, c, err := g.lookup(char)
	if err != nil {
		return err
	}
	return client.WriteCharacteristic(c, data, false)
}

// Read reads a discovered characteristic.
func (g *gatt) Read(ctx context.Context, char string) ([]byte, error) {
	client, c, err := g.lookup(char)
	if err != nil {
		return nil, err
	}
	return client.ReadCharacteristic(c)
}

// Disconnect cancels the connection. Idempotent.
func (g *gatt) Disconnect() error {
	g.mu.Lock()
	client := g.client
	g.client = nil
	g.chars = nil
	g.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.CancelConnection()
}

// lookup resolves a characteristic by UUID under the lock.
func (g *gatt) lookup(char string) (ble.Client, *ble.Characteristic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		return nil, nil, ErrNotConnected
	}
	c, ok := g.chars[char]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, char)
	}
	return g.client, c, nil
}
