package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/linht/pir-manager/plugins"
)

// Configuration constants
const (
	// Server timeouts
	ServerReadTimeout  = 30 * time.Second
	ServerWriteTimeout = 30 * time.Second

	// Session management (24-hour expiry)
	SessionDuration = 24 * time.Hour
	TokenBytes      = 32
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`
	Auth struct {
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"auth"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Metrics struct {
		Path string `yaml:"path"`
	} `yaml:"metrics"`
	PIR     plugins.PIRConfig `yaml:"pir"`
	Plugins []string          `yaml:"plugins"`
}

// Session represents a simple authenticated session for local use
type Session struct {
	Token     string
	ExpiresAt time.Time
}

var (
	config         Config
	currentSession *Session
	sessionMu      sync.RWMutex
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Load configuration
	if err := loadConfig(configPath); err != nil {
		slog.Error("Failed to load config", "error", err, "path", configPath)
		os.Exit(1)
	}

	// Setup structured logging
	level := slog.LevelInfo
	if config.Log.Level != "" {
		if err := level.UnmarshalText([]byte(config.Log.Level)); err != nil {
			slog.Warn("Invalid log level, using info", "level", config.Log.Level)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Info("Configuration loaded", "path", configPath)
	config.PIR.ConfigPath = configPath

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  ServerReadTimeout,
		WriteTimeout: ServerWriteTimeout,
		AppName:      "Linht PIR Manager",
	})

	// Add logger middleware
	app.Use(fiberLogger.New(fiberLogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))

	// Serve static files
	app.Static("/", "./web")

	// Metrics endpoint (no auth, scraped by Prometheus)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	metricsPath := config.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	app.Get(metricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Login/logout endpoints (no auth required for login)
	app.Post("/login", handleLogin)
	app.Post("/logout", handleLogout)

	// Auth middleware for all other API routes
	app.Use("/api", authMiddleware)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize and register plugins
	loaded, err := initPlugins(app, registry)
	if err != nil {
		slog.Error("Failed to initialize plugins", "error", err)
		os.Exit(1)
	}

	// Start background loops
	var wg sync.WaitGroup
	for _, plugin := range loaded {
		if runner, ok := plugin.(plugins.Runner); ok {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				runner.Run(ctx)
				slog.Info("Plugin loop stopped", "name", name)
			}(plugin.Name())
		}
	}

	// Start server with graceful shutdown
	addr := config.Server.Host + ":" + config.Server.Port

	// Setup graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		slog.Info("Shutting down server...")
		cancel()
		if err := app.ShutdownWithContext(context.Background()); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Starting Linht PIR Manager", "address", addr)
	if err := app.Listen(addr); err != nil {
		slog.Error("Failed to start server", "error", err, "address", addr)
		os.Exit(1)
	}

	cancel()
	wg.Wait()
	for _, plugin := range loaded {
		if err := plugin.Shutdown(); err != nil {
			slog.Error("Plugin shutdown error", "name", plugin.Name(), "error", err)
		}
	}
}

func loadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, &config)
}

func handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Check password
	if err := bcrypt.CompareHashAndPassword([]byte(config.Auth.PasswordHash), []byte(req.Password)); err != nil {
		slog.Warn("Failed login attempt", "ip", c.IP())
		return c.Status(401).JSON(fiber.Map{"error": "Invalid password"})
	}

	slog.Info("Successful login", "ip", c.IP())

	// Generate new session (replaces any existing session for local-only use)
	session := &Session{
		Token:     generateToken(),
		ExpiresAt: time.Now().Add(SessionDuration),
	}
	sessionMu.Lock()
	currentSession = session
	sessionMu.Unlock()

	return c.JSON(fiber.Map{
		"success": true,
		"token":   session.Token,
		"expires": session.ExpiresAt.Unix(),
	})
}

func handleLogout(c *fiber.Ctx) error {
	sessionMu.Lock()
	currentSession = nil
	sessionMu.Unlock()
	slog.Info("User logged out", "ip", c.IP())
	return c.JSON(fiber.Map{"success": true})
}

func authMiddleware(c *fiber.Ctx) error {
	// Check for token in header first, fallback to query parameter (for WebSocket/SSE)
	token := c.Get("X-Auth-Token")
	if token == "" {
		token = c.Query("token")
	}

	if !validateToken(token) {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return c.Next()
}

func validateToken(token string) bool {
	if token == "" {
		return false
	}

	sessionMu.RLock()
	defer sessionMu.RUnlock()

	if currentSession == nil {
		return false
	}

	// Check token match and expiration
	if currentSession.Token != token {
		return false
	}

	if time.Now().After(currentSession.ExpiresAt) {
		return false
	}

	return true
}

func generateToken() string {
	b := make([]byte, TokenBytes)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func initPlugins(app *fiber.App, registry *prometheus.Registry) ([]plugins.Plugin, error) {
	var loaded []plugins.Plugin
	for _, name := range config.Plugins {
		factory, exists := plugins.Get(name)
		if !exists {
			slog.Warn("Unknown plugin", "name", name)
			continue
		}

		// Get plugin-specific config
		var pluginConfig interface{}
		switch name {
		case "pir":
			pluginConfig = map[string]interface{}{
				"config":   config.PIR,
				"registry": prometheus.Registerer(registry),
			}
		}

		plugin, err := factory(pluginConfig)
		if err != nil {
			return loaded, fmt.Errorf("plugin %s: %w", name, err)
		}

		// Set token validator for plugins
		if pirPlugin, ok := plugin.(*plugins.PIRPlugin); ok {
			pirPlugin.SetTokenValidator(validateToken)
		}

		plugin.RegisterRoutes(app)
		loaded = append(loaded, plugin)
		slog.Info("Plugin loaded", "name", plugin.Name())
	}
	return loaded, nil
}
