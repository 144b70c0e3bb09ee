package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/home-assistant-libs/shelly-go/pkg/rpc"
)

// serverReadTimeout bounds how long an accepted device connection may
// stay silent before it is dropped.
const serverReadTimeout = 5 * time.Minute

// FrameRouter resolves the frame handler for a device identity, or nil
// when no session is registered for it. Wired to the session
// demultiplexer.
type FrameRouter func(src string) func(*rpc.Frame)

// Server accepts WebSocket connections initiated by devices.
//
// Sleeping/battery devices keep their radio off and dial out briefly
// when they have something to say. Their frames carry the device id in
// src and are routed to the active session through the demultiplexer,
// exactly like CoAP datagrams are routed by source address.
type Server struct {
	route    FrameRouter
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a listener handler routing device frames via route.
func NewServer(route FrameRouter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		route:  route,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Devices do not send browser origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades an inbound device connection and pumps its frames
// through the router until the device hangs up.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(serverReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := rpc.DecodeFrame(data)
		if err != nil {
			s.logger.Debug("dropping malformed frame from device",
				"remote", r.RemoteAddr,
				"error", err)
			continue
		}
		if frame.Src == "" {
			s.logger.Debug("dropping frame without src", "remote", r.RemoteAddr)
			continue
		}

		handler := s.route(frame.Src)
		if handler == nil {
			s.logger.Debug("no session for device, closing",
				"remote", r.RemoteAddr,
				"src", frame.Src)
			return
		}
		handler(frame)
	}
}
