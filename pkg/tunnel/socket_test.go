package tunnel

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer binds the app to an ephemeral port; app.Test cannot carry a
// websocket handshake, so these tests go through a real listener.
func startServer(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln) //nolint:errcheck
	t.Cleanup(func() { app.Shutdown() })
	return ln.Addr().String()
}

func newEchoApp() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/echo", websocket.New(func(conn *websocket.Conn) {
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, message); err != nil {
				return
			}
		}
	}))
	return app
}

func newSocketApp(relay *Relay) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(func(c *fiber.Ctx) error {
		if relay.ShouldRoute(c) && websocket.IsWebSocketUpgrade(c) {
			return relay.RouteUpgrade(c)
		}
		return c.Next()
	})
	return app
}

func dialRelay(t *testing.T, addr string) *fws.Conn {
	t.Helper()
	conn, resp, err := fws.DefaultDialer.Dial("ws://"+addr+"/t/session", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestRelaySocketRoundTrip(t *testing.T) {
	echoAddr := startServer(t, newEchoApp())
	relayAddr := startServer(t, newSocketApp(NewRelay("/t/", http.DefaultClient)))

	conn := dialRelay(t, relayAddr)

	connect, err := json.Marshal(connectPacket{
		Type:   "connect",
		Remote: "ws://" + echoAddr + "/echo",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(fws.TextMessage, connect))

	messageType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, fws.TextMessage, messageType)

	var open openPacket
	require.NoError(t, json.Unmarshal(frame, &open))
	assert.Equal(t, "open", open.Type)

	require.NoError(t, conn.WriteMessage(fws.TextMessage, []byte("ping")))
	messageType, frame, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, fws.TextMessage, messageType)
	assert.Equal(t, "ping", string(frame))
}

func TestRelaySocketRelaysBinaryFrames(t *testing.T) {
	echoAddr := startServer(t, newEchoApp())
	relayAddr := startServer(t, newSocketApp(NewRelay("/t/", http.DefaultClient)))

	conn := dialRelay(t, relayAddr)

	connect, _ := json.Marshal(connectPacket{Type: "connect", Remote: "ws://" + echoAddr + "/echo"})
	require.NoError(t, conn.WriteMessage(fws.TextMessage, connect))
	_, _, err := conn.ReadMessage() // open packet
	require.NoError(t, err)

	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, conn.WriteMessage(fws.BinaryMessage, payload))

	messageType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, fws.BinaryMessage, messageType)
	assert.Equal(t, payload, frame)
}

func TestRelaySocketDropsBadConnectPacket(t *testing.T) {
	relayAddr := startServer(t, newSocketApp(NewRelay("/t/", http.DefaultClient)))

	conn := dialRelay(t, relayAddr)

	require.NoError(t, conn.WriteMessage(fws.TextMessage, []byte(`{"type":"bogus"}`)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "a malformed opening frame should drop the connection")
}

func TestRelaySocketTimesOutSilentClient(t *testing.T) {
	old := handshakeTimeout
	handshakeTimeout = 200 * time.Millisecond
	defer func() { handshakeTimeout = old }()

	relayAddr := startServer(t, newSocketApp(NewRelay("/t/", http.DefaultClient)))

	conn := dialRelay(t, relayAddr)

	// never send the connect packet; the relay must hang up on its own
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "a silent client should be disconnected after the handshake window")
}

func TestRelaySocketClosesOnUnreachableRemote(t *testing.T) {
	relayAddr := startServer(t, newSocketApp(NewRelay("/t/", http.DefaultClient)))

	conn := dialRelay(t, relayAddr)

	connect, _ := json.Marshal(connectPacket{Type: "connect", Remote: "ws://127.0.0.1:1/x"})
	require.NoError(t, conn.WriteMessage(fws.TextMessage, connect))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *fws.CloseError
	if assert.ErrorAs(t, err, &closeErr) {
		assert.Equal(t, fws.CloseGoingAway, closeErr.Code)
	}
}
