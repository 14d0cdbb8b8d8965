package tunnel

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/websocket/v2"
)

var handshakeTimeout = 12 * time.Second

// connectPacket is the first frame a client sends after upgrading: where to
// connect and with what headers.
type connectPacket struct {
	Type      string            `json:"type"`
	Remote    string            `json:"remote"`
	Protocols []string          `json:"protocols"`
	Headers   map[string]string `json:"headers"`
}

// openPacket acknowledges the remote connection.
type openPacket struct {
	Type     string `json:"type"`
	Protocol string `json:"protocol"`
}

// relaySocket reads the connect packet, dials the remote endpoint, then pumps
// frames both ways until either side closes.
func (r *Relay) relaySocket(client *websocket.Conn) {
	defer client.Close()

	// a client that upgrades and never speaks must not pin the goroutine
	client.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, message, err := client.ReadMessage()
	if err != nil {
		return
	}
	if messageType != fws.TextMessage {
		log.Printf("ERROR: tunnel client opened with a non-text frame")
		return
	}

	var packet connectPacket
	if err := json.Unmarshal(message, &packet); err != nil || packet.Type != "connect" {
		log.Printf("ERROR: invalid tunnel connect packet")
		return
	}
	client.SetReadDeadline(time.Time{})

	header := make(http.Header)
	for key, value := range packet.Headers {
		header.Set(key, value)
	}
	// the dialer writes its own handshake headers
	for _, h := range []string{"Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version", "Sec-Websocket-Protocol", "Sec-Websocket-Extensions"} {
		header.Del(h)
	}

	dialer := &fws.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     packet.Protocols,
	}
	remote, resp, err := dialer.Dial(packet.Remote, header)
	if err != nil {
		log.Printf("ERROR: tunnel dial %s: %v", packet.Remote, err)
		deadline := time.Now().Add(time.Second)
		client.WriteControl(fws.CloseMessage, fws.FormatCloseMessage(fws.CloseGoingAway, "remote unreachable"), deadline)
		return
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer remote.Close()

	open, _ := json.Marshal(openPacket{Type: "open", Protocol: remote.Subprotocol()})
	if err := client.WriteMessage(fws.TextMessage, open); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		pump(remote, client.Conn)
	}()
	pump(client.Conn, remote)
	<-done
}

// pump copies frames from src to dst until either side errors, then closes
// both so the opposite pump unblocks.
func pump(src, dst *fws.Conn) {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if fws.IsUnexpectedCloseError(err, fws.CloseGoingAway, fws.CloseNormalClosure, fws.CloseAbnormalClosure) {
				log.Printf("ERROR: tunnel read: %v", err)
			}
			src.Close()
			dst.Close()
			return
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			src.Close()
			dst.Close()
			return
		}
	}
}
