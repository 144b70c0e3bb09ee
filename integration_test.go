package shellygo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-assistant-libs/shelly-go/pkg/device"
	"github.com/home-assistant-libs/shelly-go/pkg/session"
	"github.com/home-assistant-libs/shelly-go/pkg/transport"
)

// fakeDevice is an HTTP+WebSocket peer behaving like a generation 2
// device: it answers the capability probe on /shelly and RPC calls on
// /rpc, and can push notifications to a connected client.
type fakeDevice struct {
	id      string
	mac     string
	results map[string]string

	mu   sync.Mutex
	conn *websocket.Conn
	src  string
}

func startFakeDevice(t *testing.T) (*fakeDevice, string) {
	t.Helper()

	d := &fakeDevice{
		id:  "shellyplus1-a8032ab12345",
		mac: "A8032AB12345",
		results: map[string]string{
			"Shelly.GetDeviceInfo": `{"id":"shellyplus1-a8032ab12345","mac":"A8032AB12345","model":"SNSW-001X16EU","gen":2}`,
			"Shelly.GetConfig":     `{"sys":{"device":{"name":"plug"}}}`,
			"Shelly.GetStatus":     `{"light:0":{"brightness":0,"output":false}}`,
			"Switch.Toggle":        `{"was_on":false}`,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/shelly", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(d.results["Shelly.GetDeviceInfo"]))
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc(transport.RPCPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			method, _ := frame["method"].(string)
			src, _ := frame["src"].(string)

			d.mu.Lock()
			d.src = src
			result, ok := d.results[method]
			d.mu.Unlock()

			reply := map[string]any{"id": frame["id"], "src": d.id, "dst": src}
			if ok {
				reply["result"] = json.RawMessage(result)
			} else {
				reply["error"] = map[string]any{"code": 404, "message": "method not found"}
			}
			out, _ := json.Marshal(reply)
			conn.WriteMessage(websocket.TextMessage, out)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return d, strings.TrimPrefix(srv.URL, "http://")
}

// push sends a notification frame to the connected client.
func (d *fakeDevice) push(t *testing.T, method, params string) {
	t.Helper()

	d.mu.Lock()
	conn := d.conn
	src := d.src
	d.mu.Unlock()
	require.NotNil(t, conn, "no client connected")

	frame := `{"src":"` + d.id + `","dst":"` + src + `","method":"` + method + `","params":` + params + `}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// collector accumulates subscriber updates.
type collector struct {
	mu      sync.Mutex
	updates []session.UpdateKind
}

func (c *collector) fn(_ *session.DeviceSession, kind session.UpdateKind, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, kind)
}

func (c *collector) has(kind session.UpdateKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.updates {
		if k == kind {
			return true
		}
	}
	return false
}

// TestE2E_SessionOverWebSocket drives the full client path: probe,
// transport choice, initialization, a call, a pushed delta and
// shutdown.
func TestE2E_SessionOverWebSocket(t *testing.T) {
	dev, host := startFakeDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ident, err := device.Probe(ctx, nil, host)
	require.NoError(t, err)
	require.Equal(t, 2, ident.Generation)

	ws := transport.NewWS(transport.WSConfig{Host: host})
	demux := session.NewDemultiplexer(nil)
	s := session.NewDeviceSession(session.Config{
		Host:      host,
		MAC:       ident.MAC,
		Transport: ws,
		Demux:     demux,
	})

	col := &collector{}
	s.Subscribe(col.fn)

	require.NoError(t, s.Initialize(ctx))
	assert.Equal(t, session.StateReady, s.State())
	assert.Equal(t, dev.id, s.Identity().ID)
	assert.Same(t, s, demux.Lookup(dev.id))

	result, err := s.Call(ctx, "Switch.Toggle", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"was_on":false}`, string(result))

	dev.push(t, "NotifyStatus", `{"light:0":{"brightness":10}}`)
	require.Eventually(t, func() bool {
		return col.has(session.UpdateStatusDelta)
	}, 2*time.Second, 5*time.Millisecond)

	light, ok := s.Status()["light:0"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(10), light["brightness"])
	assert.Equal(t, false, light["output"])

	require.NoError(t, s.Shutdown())
	assert.Nil(t, demux.Lookup(dev.id))
}

// TestE2E_DisconnectNotifiesSubscriber verifies a device hangup
// surfaces as a disconnect update and a Disconnected session.
func TestE2E_DisconnectNotifiesSubscriber(t *testing.T) {
	dev, host := startFakeDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws := transport.NewWS(transport.WSConfig{Host: host})
	s := session.NewDeviceSession(session.Config{Host: host, Transport: ws})

	col := &collector{}
	s.Subscribe(col.fn)
	require.NoError(t, s.Initialize(ctx))

	dev.mu.Lock()
	dev.conn.Close()
	dev.mu.Unlock()

	require.Eventually(t, func() bool {
		return col.has(session.UpdateDisconnect)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, session.StateDisconnected, s.State())
}

// TestE2E_ServerModeRouting covers a sleeping device dialing out to
// the listener: its frames are routed through the demultiplexer to the
// registered session, which wakes and delivers the pushed status.
func TestE2E_ServerModeRouting(t *testing.T) {
	const deviceID = "shellyplusht-sleepy"

	demux := session.NewDemultiplexer(nil)
	srv := httptest.NewServer(transport.NewServer(demux.FrameRouter(), nil))
	t.Cleanup(srv.Close)

	s := session.NewDeviceSession(session.Config{
		DeviceID: deviceID,
		Demux:    demux,
	})
	col := &collector{}
	s.Subscribe(col.fn)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := `{"src":"` + deviceID + `","dst":"listener","method":"NotifyFullStatus","params":{"devicepower:0":{"battery":{"percent":91}}}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	require.Eventually(t, func() bool {
		return col.has(session.UpdateFullStatus)
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.State() == session.StateReady
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotNil(t, s.Status()["devicepower:0"])
}
