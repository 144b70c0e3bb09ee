// Command shellyctl opens a session to a device and follows its
// status updates.
//
// It probes the device over HTTP first, picks the matching transport
// for the reported generation, initializes a session and prints every
// update until interrupted. A single RPC can be issued instead with
// the -call flag.
//
// Usage:
//
//	shellyctl [flags] <host>
//
// Flags:
//
//	-config string     Configuration file path
//	-password string   Device password
//	-mac string        Expected MAC address (aborts on mismatch)
//	-call string       Issue one RPC method and exit
//	-trace string      Write a protocol trace to this file
//	-log-level string  Log level: debug, info, warn, error
//
// Examples:
//
//	# Follow status updates
//	shellyctl 192.168.1.30
//
//	# Toggle the first switch
//	shellyctl -call Switch.Toggle 192.168.1.30
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/home-assistant-libs/shelly-go/pkg/config"
	"github.com/home-assistant-libs/shelly-go/pkg/device"
	"github.com/home-assistant-libs/shelly-go/pkg/protolog"
	"github.com/home-assistant-libs/shelly-go/pkg/session"
	"github.com/home-assistant-libs/shelly-go/pkg/transport"
)

var flags struct {
	configFile string
	password   string
	mac        string
	call       string
	trace      string
	logLevel   string
}

func init() {
	flag.StringVar(&flags.configFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.password, "password", "", "Device password")
	flag.StringVar(&flags.mac, "mac", "", "Expected MAC address (aborts on mismatch)")
	flag.StringVar(&flags.call, "call", "", "Issue one RPC method and exit")
	flag.StringVar(&flags.trace, "trace", "", "Write a protocol trace to this file")
	flag.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: shellyctl [flags] <host>")
		os.Exit(1)
	}
	host := flag.Arg(0)

	logger := newLogger(flags.logLevel)

	opts, err := config.Load(flags.configFile)
	if err != nil {
		fatal(logger, "loading configuration", err)
	}
	if flags.password != "" {
		opts.Password = flags.password
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	ident, err := device.Probe(ctx, nil, host)
	cancel()
	if err != nil {
		fatal(logger, "probing device", err)
	}
	logger.Info("device probed",
		"id", ident.ID,
		"model", ident.Model,
		"generation", ident.Generation,
		"auth", ident.AuthRequired)

	if ident.Generation < 2 {
		fatal(logger, "unsupported device",
			fmt.Errorf("generation %d needs the CoIoT listener", ident.Generation))
	}

	var eventLog protolog.Logger = protolog.NoopLogger{}
	if flags.trace != "" {
		fileLog, err := protolog.NewFileLogger(flags.trace)
		if err != nil {
			fatal(logger, "opening trace file", err)
		}
		defer fileLog.Close()
		eventLog = fileLog
	}

	ws := transport.NewWS(transport.WSConfig{
		Host:              host,
		ClientName:        opts.ClientName,
		Password:          opts.Password,
		CallTimeout:       opts.CallTimeout,
		HeartbeatInterval: opts.HeartbeatInterval,
		PongTimeout:       opts.PongTimeout,
		Logger:            logger,
	})

	s := session.NewDeviceSession(session.Config{
		Host:       host,
		MAC:        flags.mac,
		Transport:  ws,
		AutoReinit: opts.AutoReinit && flags.call == "",
		Logger:     logger,
		EventLog:   eventLog,
	})

	s.Subscribe(printUpdate)

	ctx, cancel = context.WithTimeout(context.Background(), opts.ConnectTimeout)
	err = s.Initialize(ctx)
	cancel()
	if err != nil {
		fatal(logger, "initializing session", err)
	}
	logger.Info("session ready", "device", s.Identity().ID)

	if flags.call != "" {
		runCall(logger, s, opts.CallTimeout)
		s.Shutdown()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	if err := s.Shutdown(); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}

func runCall(logger *slog.Logger, s *session.DeviceSession, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := s.Call(ctx, flags.call, nil)
	if err != nil {
		fatal(logger, flags.call, err)
	}
	fmt.Println(string(result))
}

func printUpdate(s *session.DeviceSession, kind session.UpdateKind, payload map[string]any) {
	out, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), kind, out)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
