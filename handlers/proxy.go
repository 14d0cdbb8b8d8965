package handlers

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GenericProxy serves the /a/ path family: the remainder of the path is a
// percent-encoded absolute URL, forwarded with the inbound method, headers,
// and original query string. No caching; upstream failures surface to the
// caller since this path has no fallback handler.
func GenericProxy(client *http.Client, allowedDomains []string, rewriteHTML bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		target, err := extractTarget(c)
		if err != nil {
			log.Printf("ERROR: %v", err)
			return c.Status(fiber.StatusBadRequest).SendString("could not extract proxied URL")
		}

		if len(allowedDomains) > 0 && !domainAllowed(allowedDomains, target.Host) {
			return c.Status(fiber.StatusForbidden).SendString("domain not allowed: " + target.Host)
		}

		req, err := http.NewRequestWithContext(c.Context(), c.Method(), target.String(), bytes.NewReader(c.Body()))
		if err != nil {
			log.Printf("ERROR: building upstream request for %s: %v", target, err)
			return c.SendStatus(fiber.StatusBadGateway)
		}
		c.Request().Header.VisitAll(func(key, value []byte) {
			name := string(key)
			switch name {
			case fiber.HeaderHost, fiber.HeaderContentLength, fiber.HeaderAcceptEncoding:
				// the client addressed us, and the transport negotiates its
				// own encoding and length
				return
			}
			req.Header.Add(name, string(value))
		})

		resp, err := client.Do(req)
		if err != nil {
			log.Printf("ERROR: proxy fetch %s: %v", target, err)
			return c.SendStatus(fiber.StatusBadGateway)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Printf("ERROR: reading proxied body from %s: %v", target, err)
			return c.SendStatus(fiber.StatusBadGateway)
		}

		contentType := passContentType(resp.Header.Get(fiber.HeaderContentType), target.String())
		if rewriteHTML && strings.HasPrefix(contentType, "text/html") {
			if rewritten, err := RewriteLinks(body, target); err == nil {
				body = rewritten
			} else {
				log.Printf("WARN: could not rewrite proxied HTML from %s: %v", target, err)
			}
		}

		c.Set(fiber.HeaderContentType, contentType)
		return c.Status(resp.StatusCode).Send(body)
	}
}

// extractTarget decodes the proxied URL embedded in the request path and
// reattaches the original query string.
func extractTarget(c *fiber.Ctx) (*url.URL, error) {
	raw := c.Params("*")

	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		// some clients send the URL already decoded
		decoded = raw
	}

	u, err := url.Parse(decoded)
	if err != nil {
		return nil, fmt.Errorf("error parsing proxied URL '%s': %w", decoded, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("proxied URL '%s' is not absolute", decoded)
	}

	if qs := string(c.Request().URI().QueryString()); qs != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + qs
		} else {
			u.RawQuery = qs
		}
	}

	return u, nil
}

func domainAllowed(allowed []string, host string) bool {
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	for _, domain := range allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
