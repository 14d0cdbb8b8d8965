// Package tunnel implements the relay sub-server that owns tunneled traffic.
// It claims every path under its mount prefix: plain requests are relayed to
// the target named by the client, upgrades become a websocket relay to a
// remote endpoint chosen in the connect packet.
package tunnel

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// TargetHeader names the upstream a plain relayed request should reach.
const TargetHeader = "X-Tunnel-Target"

// Relay satisfies the router's Tunnel interface.
type Relay struct {
	prefix string
	client *http.Client
}

// NewRelay mounts a relay under prefix (normalized to end in a slash).
func NewRelay(prefix string, client *http.Client) *Relay {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Relay{prefix: prefix, client: client}
}

// ShouldRoute claims every request under the mount prefix. It inspects only
// the path, never the body.
func (r *Relay) ShouldRoute(c *fiber.Ctx) bool {
	path := c.Path()
	return path == strings.TrimSuffix(r.prefix, "/") || strings.HasPrefix(path, r.prefix)
}

// RouteRequest relays a plain request to the target named in the
// X-Tunnel-Target header, passing the upstream status and body through. The
// mount root answers with the relay manifest.
func (r *Relay) RouteRequest(c *fiber.Ctx) error {
	if c.Path() == r.prefix || c.Path() == strings.TrimSuffix(r.prefix, "/") {
		return c.JSON(fiber.Map{
			"relay":    "periscope",
			"versions": []string{"v1"},
		})
	}

	target := c.Get(TargetHeader)
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    "MISSING_TARGET",
			"message": TargetHeader + " header was not specified",
		})
	}

	req, err := http.NewRequestWithContext(c.Context(), c.Method(), target, bytes.NewReader(c.Body()))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code":    "INVALID_TARGET",
			"message": err.Error(),
		})
	}
	c.Request().Header.VisitAll(func(key, value []byte) {
		switch string(key) {
		case TargetHeader, fiber.HeaderHost, fiber.HeaderConnection, fiber.HeaderUpgrade, fiber.HeaderContentLength:
			return
		}
		req.Header.Add(string(key), string(value))
	})

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("ERROR: relay fetch %s: %v", target, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"code":    "UPSTREAM_UNREACHABLE",
			"message": err.Error(),
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("ERROR: relay body from %s: %v", target, err)
		return c.SendStatus(fiber.StatusBadGateway)
	}

	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	return c.Status(resp.StatusCode).Send(body)
}

// RouteUpgrade upgrades the client connection and hands it to the websocket
// relay loop.
func (r *Relay) RouteUpgrade(c *fiber.Ctx) error {
	return websocket.New(r.relaySocket)(c)
}
