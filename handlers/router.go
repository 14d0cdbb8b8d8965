package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Tunnel is the capability surface of the tunneling sub-server. The router
// never looks inside it: once traffic is claimed the sub-server owns the
// connection, including closing it.
type Tunnel interface {
	ShouldRoute(c *fiber.Ctx) bool
	RouteRequest(c *fiber.Ctx) error
	RouteUpgrade(c *fiber.Ctx) error
}

// TunnelRouter offers every inbound request, plain or upgrade, to the
// tunneling sub-server before the ordinary pipeline sees it. Upgrade requests
// the sub-server declines are terminated: nothing downstream speaks an
// upgrade protocol.
func TunnelRouter(t Tunnel) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claimed := t != nil && t.ShouldRoute(c)

		if websocket.IsWebSocketUpgrade(c) {
			if claimed {
				return t.RouteUpgrade(c)
			}
			return fiber.ErrUpgradeRequired
		}

		if claimed {
			return t.RouteRequest(c)
		}
		return c.Next()
	}
}
