package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pump-backend/internal/registry"
)

// Frame is one raw inbound message from a device, handed to the ingest
// pipeline without any schema enforcement at the transport layer
type Frame struct {
	DeviceID   string
	Payload    []byte
	ReceivedAt time.Time
}

// ServerConfig holds the gateway's tunables
type ServerConfig struct {
	// DevicePathPrefix is stripped from the request path to get the
	// device name, e.g. "/ws/device/"
	DevicePathPrefix string
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
	FrameChannelSize int
}

// DefaultServerConfig returns sensible gateway defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		DevicePathPrefix: "/ws/device/",
		WriteTimeout:     10 * time.Second,
		PongTimeout:      90 * time.Second,
		PingInterval:     30 * time.Second,
		FrameChannelSize: 256,
	}
}

// Server accepts persistent WebSocket links from field devices, keeps the
// connection registry in sync with link state, and forwards inbound frames
// to the ingest pipeline. On every (re)connect it fires the connect hook so
// the schedule sync can replay the device's rules.
type Server struct {
	config   ServerConfig
	registry *registry.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// Frames is read by the ingest service
	Frames chan *Frame

	// OnDeviceConnect runs once per established link, after the registry
	// entry exists. Called on its own goroutine per device.
	OnDeviceConnect func(ctx context.Context, deviceID string)
}

// NewServer creates a gateway bound to a registry
func NewServer(config ServerConfig, reg *registry.Registry, logger *slog.Logger) *Server {
	return &Server{
		config:   config,
		registry: reg,
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices authenticate at the HTTP layer in front of us
			CheckOrigin: func(*http.Request) bool { return true },
		},
		Frames: make(chan *Frame, config.FrameChannelSize),
	}
}

// HandleDevice upgrades an incoming device request and runs its read pump
// until the link drops
func (s *Server) HandleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimPrefix(r.URL.Path, s.config.DevicePathPrefix)
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.Error(w, "missing or malformed device name", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	conn := newDeviceConn(ws, s.config.WriteTimeout)
	s.registry.OnConnect(deviceID, conn)

	if s.OnDeviceConnect != nil {
		go s.OnDeviceConnect(r.Context(), deviceID)
	}

	go s.pingLoop(deviceID, conn)
	s.readPump(deviceID, conn)
}

// readPump drains inbound frames for one device. A read error of any kind
// means the link is gone: the registry entry is evicted synchronously so no
// dispatch can pick up the dead handle.
func (s *Server) readPump(deviceID string, conn *deviceConn) {
	defer s.registry.OnDisconnect(deviceID, conn)

	_ = conn.ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("device link error", "device_id", deviceID, "error", err)
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

		s.registry.Touch(deviceID)

		frame := &Frame{DeviceID: deviceID, Payload: payload, ReceivedAt: time.Now()}
		select {
		case s.Frames <- frame:
		case <-time.After(1 * time.Second):
			s.logger.Warn("frame channel full, dropping message", "device_id", deviceID)
		}
	}
}

// pingLoop keeps the link alive until the connection closes
func (s *Server) pingLoop(deviceID string, conn *deviceConn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.closed:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				s.logger.Warn("ping failed", "device_id", deviceID, "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}
