package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/term"

	"github.com/periscopeproxy/periscope/handlers"
	"github.com/periscopeproxy/periscope/pkg/assetcache"
	"github.com/periscopeproxy/periscope/pkg/config"
	"github.com/periscopeproxy/periscope/pkg/tunnel"
)

func main() {
	parser := argparse.NewParser("periscope", "Multiplexing web front-end: tunnel relay, caching asset proxy, and static site behind one socket")
	configPath := parser.String("c", "config", &argparse.Options{Help: "Path to yaml config file"})
	port := parser.Int("p", "port", &argparse.Options{Help: "Listen port (overrides PORT and config)"})
	staticRoot := parser.String("s", "static", &argparse.Options{Help: "Static content root (overrides config)"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *staticRoot != "" {
		cfg.StaticRoot = *staticRoot
	}

	if cfg.Gate.User != "" && cfg.Gate.Password == "" {
		fmt.Fprintf(os.Stderr, "gate password for %s: ", cfg.Gate.User)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatalf("failed to read gate password: %v", err)
		}
		cfg.Gate.Password = string(password)
	}

	app := newApp(cfg)

	log.Printf("INFO: listening on :%d", cfg.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("failed to bind listening socket: %v", err)
	}
}

// newApp assembles the full request pipeline. The tunnel router runs before
// the gate and the static handlers so claimed traffic never touches them.
func newApp(cfg *config.Config) *fiber.App {
	client := &http.Client{Timeout: cfg.UpstreamTimeout()}
	return newAppWithTunnel(cfg, tunnel.NewRelay(cfg.TunnelPrefix, client), client)
}

func newAppWithTunnel(cfg *config.Config, t handlers.Tunnel, client *http.Client) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorPage(cfg.StaticRoot),
	})

	// recover wraps the tunnel router too, so a panicking relay still lands
	// on the 500 page
	app.Use(recover.New())
	app.Use(handlers.TunnelRouter(t))

	app.Use(logger.New())
	if cfg.Gate.User != "" {
		app.Use(basicauth.New(basicauth.Config{
			Users: map[string]string{cfg.Gate.User: cfg.Gate.Password},
		}))
	}

	cache := assetcache.New(cfg.CacheTTL(), cfg.Cache.MaxEntries)
	app.Get("/e/*", handlers.AssetProxy(cache, cfg.AssetRoutes, client))
	app.All("/a/*", handlers.GenericProxy(client, cfg.AllowedDomains, cfg.RewriteHTML))

	for route, page := range cfg.Pages {
		page := page
		app.Get(route, func(c *fiber.Ctx) error {
			return c.SendFile(filepath.Join(cfg.StaticRoot, page))
		})
	}
	app.Static("/", cfg.StaticRoot)

	app.Use(func(c *fiber.Ctx) error {
		return servePage(c, fiber.StatusNotFound, filepath.Join(cfg.StaticRoot, "404.html"))
	})

	return app
}

// servePage sends a static page with the given status. SendFile overwrites
// the status code, so it is set afterwards.
func servePage(c *fiber.Ctx, status int, path string) error {
	if err := c.SendFile(path); err != nil {
		return c.Status(status).SendString(http.StatusText(status))
	}
	c.Status(status)
	return nil
}

// errorPage converts unexpected handler failures into the 500 page; fiber
// errors keep their own status.
func errorPage(staticRoot string) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		if code == fiber.StatusInternalServerError {
			log.Printf("ERROR: %v", err)
			return servePage(c, code, filepath.Join(staticRoot, "500.html"))
		}
		return c.Status(code).SendString(err.Error())
	}
}
