package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/home-assistant-libs/shelly-go/pkg/ble"
	"github.com/home-assistant-libs/shelly-go/pkg/transport"
)

// Options is the client configuration.
type Options struct {
	// ClientName identifies this client in the source field of
	// outgoing RPC frames.
	ClientName string `yaml:"client_name"`

	// Password authenticates against devices with auth enabled. The
	// username is fixed by the firmware.
	Password string `yaml:"password"`

	// CallTimeout bounds a single RPC call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// ConnectTimeout bounds transport establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HeartbeatInterval is the idle period after which the WebSocket
	// transport pings the device.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// PongTimeout is how long a ping may go unanswered before the
	// connection is declared dead.
	PongTimeout time.Duration `yaml:"pong_timeout"`

	// BLEPollInterval is the delay between RX-control readiness polls.
	BLEPollInterval time.Duration `yaml:"ble_poll_interval"`

	// BLEPollAttempts is the readiness poll budget per call.
	BLEPollAttempts int `yaml:"ble_poll_attempts"`

	// AutoReinit reinitializes sessions after a disconnect.
	AutoReinit bool `yaml:"auto_reinit"`

	// TraceFile, when set, captures protocol events to this path.
	TraceFile string `yaml:"trace_file"`

	// Devices lists per-device settings keyed by address.
	Devices []DeviceOptions `yaml:"devices"`
}

// DeviceOptions overrides session settings for one device.
type DeviceOptions struct {
	// Host is the device's network address.
	Host string `yaml:"host"`

	// MAC, when set, is verified against the device identity during
	// initialization.
	MAC string `yaml:"mac"`

	// Password overrides the client-wide password.
	Password string `yaml:"password"`

	// BLEAddress selects the GATT transport instead of WebSocket.
	BLEAddress string `yaml:"ble_address"`
}

// Defaults returns options with every tunable at its default.
func Defaults() Options {
	return Options{
		ClientName:        "shelly-go",
		CallTimeout:       transport.DefaultCallTimeout,
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: transport.DefaultHeartbeatInterval,
		PongTimeout:       transport.DefaultPongTimeout,
		BLEPollInterval:   ble.DefaultPollInterval,
		BLEPollAttempts:   ble.DefaultPollAttempts,
	}
}

// Load reads options from a YAML file on top of the defaults. A
// missing path returns the defaults unchanged.
func Load(path string) (Options, error) {
	opts := Defaults()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, err
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parsing %s: %w", path, err)
	}
	opts.applyDefaults()

	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("validating %s: %w", path, err)
	}
	return opts, nil
}

// applyDefaults restores defaults for fields the file zeroed or
// omitted.
func (o *Options) applyDefaults() {
	defaults := Defaults()
	if o.ClientName == "" {
		o.ClientName = defaults.ClientName
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaults.CallTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaults.ConnectTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaults.PongTimeout
	}
	if o.BLEPollInterval <= 0 {
		o.BLEPollInterval = defaults.BLEPollInterval
	}
	if o.BLEPollAttempts <= 0 {
		o.BLEPollAttempts = defaults.BLEPollAttempts
	}
}

// Validate checks cross-field constraints.
func (o *Options) Validate() error {
	if o.PongTimeout >= o.HeartbeatInterval {
		return fmt.Errorf("pong_timeout %v must be below heartbeat_interval %v",
			o.PongTimeout, o.HeartbeatInterval)
	}
	for i, d := range o.Devices {
		if d.Host == "" && d.BLEAddress == "" {
			return fmt.Errorf("devices[%d]: host or ble_address required", i)
		}
	}
	return nil
}

// PasswordFor returns the effective password for a device entry.
func (o *Options) PasswordFor(d DeviceOptions) string {
	if d.Password != "" {
		return d.Password
	}
	return o.Password
}
