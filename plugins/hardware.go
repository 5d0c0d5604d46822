package plugins

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linht/pir-manager/pyd1598"
)

// PIRPlugin exposes a PYD1598 sensor array over HTTP and polls it in the
// background. Sensor lines stay claimed for the plugin's lifetime.
type PIRPlugin struct {
	config         PIRConfig
	backend        LineBackend
	array          *PIRArray
	poller         *Poller
	profiles       *ProfileStore
	tokenValidator TokenValidator
}

// PIRConfig holds the sensor array configuration
type PIRConfig struct {
	Backend          string         `yaml:"backend"`
	GPIOChip         string         `yaml:"gpio_chip"`
	Realtime         bool           `yaml:"realtime"`
	PollInterval     time.Duration  `yaml:"poll_interval"`
	SimEventInterval time.Duration  `yaml:"sim_event_interval"`
	Sensors          []SensorConfig `yaml:"sensors"`

	// ConfigPath is the file profiles are saved to; set by the application
	ConfigPath string `yaml:"-"`
}

// NewPIRPlugin opens the configured backend and sensors
func NewPIRPlugin(cfg PIRConfig, reg prometheus.Registerer) (*PIRPlugin, error) {
	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}

	p, err := NewPIRPluginWithBackend(cfg, backend, reg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return p, nil
}

// NewPIRPluginWithBackend builds the plugin on an already opened backend and
// pushes the initial configuration to every sensor. Push failures are logged;
// the poller retries them.
func NewPIRPluginWithBackend(cfg PIRConfig, backend LineBackend, reg prometheus.Registerer) (*PIRPlugin, error) {
	// Set defaults if not configured
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Backend == "" {
		cfg.Backend = backend.Name()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	slog.Info("PIR plugin initializing",
		"backend", cfg.Backend,
		"gpio_chip", cfg.GPIOChip,
		"realtime", cfg.Realtime,
		"poll_interval", cfg.PollInterval,
		"sensors", len(cfg.Sensors))

	array, err := NewPIRArray(cfg.Sensors, backend, slog.Default())
	if err != nil {
		return nil, err
	}

	if err := array.ConfigureAll(); err != nil {
		slog.Warn("Initial configuration push failed", "error", err)
	}

	p := &PIRPlugin{
		config:  cfg,
		backend: backend,
		array:   array,
		poller:  NewPoller(array, cfg.PollInterval, NewMetrics(reg), slog.Default()),
	}
	if cfg.ConfigPath != "" {
		store, err := NewProfileStore(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		p.profiles = store
	}
	return p, nil
}

// Name returns the plugin identifier
func (p *PIRPlugin) Name() string {
	return "pir"
}

// SetTokenValidator sets the token validation function
func (p *PIRPlugin) SetTokenValidator(validator TokenValidator) {
	p.tokenValidator = validator
}

// Array returns the sensor array
func (p *PIRPlugin) Array() *PIRArray {
	return p.array
}

// Poller returns the background poller
func (p *PIRPlugin) Poller() *Poller {
	return p.poller
}

// Run starts the poller, and the event generator of the sim backend, until
// ctx is cancelled
func (p *PIRPlugin) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if r, ok := p.backend.(Runner); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}
	p.poller.Run(ctx)
	wg.Wait()
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *PIRPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/pir")

	// Array endpoints
	api.Get("/", p.handleList)
	api.Get("/fields", p.handleFields)
	api.Get("/backend", p.handleBackend)
	api.Post("/configure-all", p.handleConfigureAll)
	api.Get("/triggered", p.handleAnyTriggered)
	api.Post("/poll", p.handlePoll)
	api.Get("/profiles", p.handleLoadProfiles)
	api.Post("/profiles/save", p.handleSaveProfiles)

	// Event streams
	api.Get("/ws", websocket.New(p.handleWebSocket))
	api.Get("/events", p.handleEventStream)

	// Per-sensor endpoints
	api.Get("/:name", p.handleStatus)
	api.Get("/:name/config", p.handleGetConfig)
	api.Post("/:name/config", p.handleSetConfig)
	api.Post("/:name/defaults", p.handleDefaults)
	api.Post("/:name/push", p.handlePush)
	api.Post("/:name/fetch", p.handleFetch)
	api.Post("/:name/reset", p.handleReset)
	api.Post("/:name/reset-fetch", p.handleResetFetch)
	api.Get("/:name/triggered", p.handleTriggered)
	api.Get("/:name/reading", p.handleReading)
	api.Get("/:name/readback", p.handleReadback)
	api.Post("/:name/inject", p.handleInject)

	slog.Info("PIR plugin routes registered", "sensors", p.array.Names())
}

// Shutdown releases the sensor lines
func (p *PIRPlugin) Shutdown() error {
	return p.array.Close()
}

// withSensor runs fn with exclusive access to the sensor named in the route
func (p *PIRPlugin) withSensor(c *fiber.Ctx, fn func(s *PIRSensor, d *pyd1598.Device) error) error {
	name := c.Params("name")
	s, ok := p.array.ByName(name)
	if !ok {
		return &notFoundError{name: name}
	}
	return s.With(func(d *pyd1598.Device) error {
		return fn(s, d)
	})
}

type notFoundError struct {
	name string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("unknown sensor %q", e.name)
}

// sendErr maps unknown sensors to 404 and driver errors to their class
func sendErr(c *fiber.Ctx, err error) error {
	if _, ok := err.(*notFoundError); ok {
		return SendError(c, fiber.StatusNotFound, err)
	}
	return SendDriverError(c, err)
}

// Array handlers

func (p *PIRPlugin) handleList(c *fiber.Ctx) error {
	return SendSuccess(c, map[string]interface{}{
		"backend": p.config.Backend,
		"sensors": p.array.Statuses(),
		"count":   p.array.Count(),
	}, "")
}

func (p *PIRPlugin) handleFields(c *fiber.Ctx) error {
	return SendSuccess(c, map[string]interface{}{
		"fields":   RegisterFields,
		"defaults": NewConfigView(pyd1598.Pack(pyd1598.DefaultFields)),
	}, "")
}

func (p *PIRPlugin) handleBackend(c *fiber.Ctx) error {
	info := map[string]interface{}{
		"name":     p.backend.Name(),
		"realtime": p.config.Realtime,
	}
	if i, ok := p.backend.(interface{ Info() map[string]interface{} }); ok {
		info["info"] = i.Info()
	}
	return SendSuccess(c, info, "")
}

func (p *PIRPlugin) handleConfigureAll(c *fiber.Ctx) error {
	if err := p.array.ConfigureAll(); err != nil {
		slog.Error("Failed to configure sensors", "error", err)
		return SendDriverError(c, err)
	}

	slog.Info("All sensors configured", "count", p.array.Count())
	return SendSuccess(c, nil, fmt.Sprintf("Configured %d sensors", p.array.Count()))
}

func (p *PIRPlugin) handleAnyTriggered(c *fiber.Ctx) error {
	triggered, err := p.array.AnyTriggered()
	if err != nil {
		return SendDriverError(c, err)
	}
	if triggered == nil {
		triggered = []string{}
	}
	return SendSuccess(c, map[string]interface{}{
		"triggered": triggered,
	}, "")
}

func (p *PIRPlugin) handlePoll(c *fiber.Ctx) error {
	events := p.poller.PollOnce()
	if events == nil {
		events = []Event{}
	}
	return SendSuccess(c, map[string]interface{}{
		"events": events,
	}, "")
}

func (p *PIRPlugin) handleLoadProfiles(c *fiber.Ctx) error {
	if p.profiles == nil {
		return SendErrorMessage(c, fiber.StatusNotImplemented, "No config file to load profiles from")
	}
	data, err := p.profiles.Load()
	if err != nil {
		return SendError(c, 500, err)
	}
	return SendSuccess(c, data, "")
}

// handleSaveProfiles writes the desired configuration of every sensor back to
// the config file, so tuned settings survive a restart
func (p *PIRPlugin) handleSaveProfiles(c *fiber.Ctx) error {
	if p.profiles == nil {
		return SendErrorMessage(c, fiber.StatusNotImplemented, "No config file to save profiles to")
	}

	configs := make(map[string]pyd1598.Config, p.array.Count())
	for _, name := range p.array.Names() {
		s, _ := p.array.ByName(name)
		configs[name] = s.Desired()
	}

	updated, err := p.profiles.Save(configs)
	if err != nil {
		slog.Error("Failed to save profiles", "error", err)
		return SendError(c, 500, err)
	}

	slog.Info("Sensor profiles saved", "path", p.config.ConfigPath, "updated", updated)
	return SendSuccess(c, map[string]interface{}{
		"updated": updated,
	}, fmt.Sprintf("Saved %d profiles", updated))
}

// Stream handlers

func (p *PIRPlugin) handleWebSocket(c *websocket.Conn) {
	id, events := p.poller.Subscribe()
	defer p.poller.Unsubscribe(id)

	sensor := c.Query("sensor")
	slog.Info("PIR event stream opened", "subscriber", id, "sensor", sensor)

	// Detect client close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			slog.Info("PIR event stream closed", "subscriber", id)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if sensor != "" && ev.Sensor != sensor {
				continue
			}
			if err := c.WriteJSON(ev); err != nil {
				slog.Debug("PIR event stream write failed", "subscriber", id, "error", err)
				return
			}
		}
	}
}

func (p *PIRPlugin) handleEventStream(c *fiber.Ctx) error {
	// Validate token from query parameter (EventSource can't use headers)
	token := c.Query("token")
	if p.tokenValidator != nil && !p.tokenValidator(token) {
		return c.Status(401).JSON(APIResponse{
			Success: false,
			Error:   "Unauthorized",
		})
	}

	sensor := c.Query("sensor")

	// Set SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	id, events := p.poller.Subscribe()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer p.poller.Unsubscribe(id)
		for ev := range events {
			if sensor != "" && ev.Sensor != sensor {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", ev.ID, data)
			if err := w.Flush(); err != nil {
				return
			}
		}
	})

	return nil
}

// Sensor handlers

func (p *PIRPlugin) handleStatus(c *fiber.Ctx) error {
	s, ok := p.array.ByName(c.Params("name"))
	if !ok {
		return SendErrorMessage(c, 404, "Unknown sensor")
	}
	return SendSuccess(c, s.Status(), "")
}

func (p *PIRPlugin) handleGetConfig(c *fiber.Ctx) error {
	var view ConfigView
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		view = NewConfigView(d.Desired())
		return nil
	})
	if err != nil {
		return sendErr(c, err)
	}
	return SendSuccess(c, view, "")
}

// handleSetConfig applies a partial profile. The register is only changed
// when every field is valid. With ?push=true it is sent to the sensor.
func (p *PIRPlugin) handleSetConfig(c *fiber.Ctx) error {
	var req ProfileConfig
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	push := c.QueryBool("push", false)

	var view ConfigView
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		before := d.Desired()
		if err := req.Apply(d); err != nil {
			if rerr := d.SetFields(before.Fields()); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		if push {
			if err := s.noteTransfer(d.Push()); err != nil {
				return err
			}
		}
		view = NewConfigView(d.Desired())
		return nil
	})
	if err != nil {
		return sendErr(c, err)
	}

	slog.Info("Sensor configuration set", "sensor", c.Params("name"), "config", view.Raw, "pushed", push)
	return SendSuccess(c, view, "Configuration updated")
}

func (p *PIRPlugin) handleDefaults(c *fiber.Ctx) error {
	var view ConfigView
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		d.SetDefaults()
		view = NewConfigView(d.Desired())
		return nil
	})
	if err != nil {
		return sendErr(c, err)
	}
	return SendSuccess(c, view, "Factory defaults applied")
}

func (p *PIRPlugin) handlePush(c *fiber.Ctx) error {
	var word string
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		word = d.Desired().String()
		return s.noteTransfer(d.Push())
	})
	if err != nil {
		slog.Error("Failed to push configuration", "sensor", c.Params("name"), "error", err)
		return sendErr(c, err)
	}

	slog.Info("Configuration pushed", "sensor", c.Params("name"), "config", word)
	return SendSuccess(c, map[string]interface{}{
		"config": word,
	}, "Configuration pushed")
}

func (p *PIRPlugin) handleFetch(c *fiber.Ctx) error {
	return p.fetchWith(c, (*pyd1598.Device).Fetch)
}

func (p *PIRPlugin) handleResetFetch(c *fiber.Ctx) error {
	return p.fetchWith(c, (*pyd1598.Device).ResetAndFetch)
}

func (p *PIRPlugin) fetchWith(c *fiber.Ctx, sequence func(*pyd1598.Device) error) error {
	var reading ReadingView
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		if err := s.noteTransfer(sequence(d)); err != nil {
			return err
		}
		r, err := d.Reading()
		if err != nil {
			return err
		}
		s.record(r, false, time.Now())
		reading = NewReadingView(r)
		return nil
	})
	if err != nil {
		return sendErr(c, err)
	}
	return SendSuccess(c, reading, "")
}

func (p *PIRPlugin) handleReset(c *fiber.Ctx) error {
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		return s.noteTransfer(d.Reset())
	})
	if err != nil {
		return sendErr(c, err)
	}
	return SendSuccess(c, nil, "Event reset")
}

func (p *PIRPlugin) handleTriggered(c *fiber.Ctx) error {
	var triggered bool
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		var err error
		triggered, err = d.Triggered()
		return s.noteTransfer(err)
	})
	if err != nil {
		return sendErr(c, err)
	}
	return SendSuccess(c, map[string]interface{}{
		"triggered": triggered,
	}, "")
}

// handleReading interprets the last fetched measurement. ?kind= selects
// bpf, lpf or temperature explicitly and fails when it does not match the
// configured signal source.
func (p *PIRPlugin) handleReading(c *fiber.Ctx) error {
	kind := c.Query("kind")

	var reading ReadingView
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		if kind == "" {
			r, err := d.Reading()
			if err != nil {
				return err
			}
			reading = NewReadingView(r)
			return nil
		}

		source, err := ParseSignalSource(kind)
		if err != nil {
			return err
		}
		reading.Source = source.String()
		switch source {
		case pyd1598.SourceBandPass:
			v, oor, err := d.BandPass()
			if err != nil {
				return err
			}
			reading.Value, reading.Raw, reading.OutOfRange = int32(v), uint16(v)&0x3FFF, oor
		case pyd1598.SourceLowPass:
			v, oor, err := d.LowPass()
			if err != nil {
				return err
			}
			reading.Value, reading.Raw, reading.OutOfRange = int32(v), v, oor
		default:
			v, oor, err := d.Temperature()
			if err != nil {
				return err
			}
			reading.Value, reading.Raw, reading.OutOfRange = int32(v), v, oor
		}
		return nil
	})
	if err != nil {
		return sendErr(c, err)
	}
	return SendSuccess(c, reading, "")
}

func (p *PIRPlugin) handleReadback(c *fiber.Ctx) error {
	var (
		data     map[string]interface{}
		validErr error
	)
	err := p.withSensor(c, func(s *PIRSensor, d *pyd1598.Device) error {
		rb, valid, ok := d.Readback()
		if !ok {
			return d.ValidateReadback()
		}
		validErr = d.ValidateReadback()
		data = map[string]interface{}{
			"readback":      NewConfigView(rb),
			"desired":       NewConfigView(d.Desired()),
			"valid_at_read": valid,
			"matches":       validErr == nil,
		}
		return nil
	})
	if err != nil {
		return sendErr(c, err)
	}
	if validErr != nil {
		data["mismatch"] = validErr.Error()
	}
	return SendSuccess(c, data, "")
}

func (p *PIRPlugin) handleInject(c *fiber.Ctx) error {
	injector, ok := p.backend.(interface{ Inject(sensor string) error })
	if !ok {
		return SendErrorMessage(c, fiber.StatusNotImplemented,
			fmt.Sprintf("Backend %s cannot inject events", p.backend.Name()))
	}
	if err := injector.Inject(c.Params("name")); err != nil {
		return SendDriverError(c, err)
	}
	return SendSuccess(c, nil, "Event injected")
}

// Register the plugin
func init() {
	Register("pir", func(config interface{}) (Plugin, error) {
		configMap, ok := config.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid config for pir plugin")
		}

		pirConfig, ok := configMap["config"].(PIRConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config for pir plugin: expected PIRConfig")
		}
		reg, _ := configMap["registry"].(prometheus.Registerer)

		return NewPIRPlugin(pirConfig, reg)
	})
}
