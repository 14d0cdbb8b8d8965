package handlers

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/periscopeproxy/periscope/pkg/assetcache"
	"github.com/periscopeproxy/periscope/pkg/config"
)

// AssetProxy serves the /e/ asset family: cache lookup first, then a plain
// upstream GET with the matched prefix swapped for its base URL. Prefix
// misses and upstream failures fall through to the next pipeline stage.
func AssetProxy(cache *assetcache.Cache, routes []config.RouteMapping, client *http.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := requestPath(c)

		if entry, ok := cache.Lookup(key); ok {
			c.Set(fiber.HeaderContentType, entry.ContentType)
			return c.Send(entry.Payload)
		}

		target := resolveUpstream(routes, key)
		if target == "" {
			return c.Next()
		}

		resp, err := client.Get(target)
		if err != nil {
			log.Printf("ERROR: asset fetch %s: %v", target, err)
			return c.Next()
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			log.Printf("asset upstream %s returned %d", target, resp.StatusCode)
			return c.Next()
		}

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Printf("ERROR: reading asset body from %s: %v", target, err)
			return c.Next()
		}

		contentType := resolveContentType(target)
		cache.Insert(key, payload, contentType)

		c.Set(fiber.HeaderContentType, contentType)
		return c.Status(fiber.StatusOK).Send(payload)
	}
}

// resolveUpstream swaps the first matching prefix for its base URL, appending
// the rest of the path verbatim. An empty result means no prefix matched.
func resolveUpstream(routes []config.RouteMapping, path string) string {
	for _, m := range routes {
		if strings.HasPrefix(path, m.Prefix) {
			return m.Base + strings.TrimPrefix(path, m.Prefix)
		}
	}
	return ""
}

// requestPath returns the inbound path as the client sent it, so encoded
// asset names survive the round trip to the upstream.
func requestPath(c *fiber.Ctx) string {
	if raw := string(c.Request().URI().PathOriginal()); raw != "" {
		return raw
	}
	return c.Path()
}
