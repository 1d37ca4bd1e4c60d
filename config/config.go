// Package config centralises runtime configuration for pgreactor
// deployments, grounded on the teacher's config package: YAML document
// on disk, environment-variable overrides, and a functional-options
// layer for programmatic overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReactorBackend selects which reactor implementation Engine wires up.
type ReactorBackend string

const (
	// BackendAuto picks epoll on linux, poll(2) elsewhere.
	BackendAuto ReactorBackend = "auto"
	// BackendEpoll forces the Linux epoll backend.
	BackendEpoll ReactorBackend = "epoll"
	// BackendPoll forces the portable poll(2) backend.
	BackendPoll ReactorBackend = "poll"
)

// ReactorConfig controls the reactor's worker pool and backend choice.
type ReactorConfig struct {
	Backend    ReactorBackend `yaml:"backend"`
	Workers    int            `yaml:"workers"`
	QueueDepth int            `yaml:"queueDepth"`
}

// ConnectConfig controls the connect timeout policy.
type ConnectConfig struct {
	// Timeout is the timeout cmd/pgreactor-demo gives each Connect
	// attempt; nothing applies it to Reset. Zero means absent: no timer
	// is armed.
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	ServiceName    string        `yaml:"serviceName"`
	ExportInterval time.Duration `yaml:"exportInterval"`
}

// DiagnosticsConfig controls the websocket observability stream.
type DiagnosticsConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	EventsPerSecond float64       `yaml:"eventsPerSecond"`
	Burst           int           `yaml:"burst"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
}

// ReconnectConfig controls reconnect backoff policy.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxElapsedTime  time.Duration `yaml:"maxElapsedTime"`
}

// Settings is the configuration tree loaded from YAML and environment
// overrides.
type Settings struct {
	Reactor     ReactorConfig     `yaml:"reactor"`
	Connect     ConnectConfig     `yaml:"connect"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
}

// Default returns the baseline configuration.
func Default() Settings {
	return Settings{
		Reactor: ReactorConfig{
			Backend:    BackendAuto,
			Workers:    4,
			QueueDepth: 64,
		},
		Connect: ConnectConfig{
			Timeout: 0,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "pgreactor",
			ExportInterval: 15 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			ListenAddr:      "127.0.0.1:9600",
			EventsPerSecond: 50,
			Burst:           100,
			WriteTimeout:    5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  5 * time.Minute,
		},
	}
}

// Load reads a YAML configuration document from path, falling back to
// defaults when path is empty, and then applies environment overrides.
func Load(path string) (Settings, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Settings{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Settings) error {
	file, err := os.Open(path) // #nosec G304 -- configuration paths are controlled by operators.
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("PGREACTOR_REACTOR_BACKEND")); v != "" {
		cfg.Reactor.Backend = ReactorBackend(strings.ToLower(v))
	}
	if v := envInt("PGREACTOR_REACTOR_WORKERS"); v > 0 {
		cfg.Reactor.Workers = v
	}
	if v := envInt("PGREACTOR_REACTOR_QUEUE_DEPTH"); v > 0 {
		cfg.Reactor.QueueDepth = v
	}
	if v := envDuration("PGREACTOR_CONNECT_TIMEOUT"); v != nil {
		cfg.Connect.Timeout = *v
	}
	if v := strings.TrimSpace(os.Getenv("PGREACTOR_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("PGREACTOR_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("PGREACTOR_DIAGNOSTICS_LISTEN_ADDR")); v != "" {
		cfg.Diagnostics.ListenAddr = v
	}
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envDuration(key string) *time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil
	}
	return &d
}

// Validate performs semantic validation beyond what YAML unmarshalling
// enforces.
func (s Settings) Validate() error {
	switch s.Reactor.Backend {
	case BackendAuto, BackendEpoll, BackendPoll:
	default:
		return fmt.Errorf("config: reactor.backend must be auto|epoll|poll, got %q", s.Reactor.Backend)
	}
	if s.Reactor.Workers <= 0 {
		return fmt.Errorf("config: reactor.workers must be >0")
	}
	if s.Reactor.QueueDepth <= 0 {
		return fmt.Errorf("config: reactor.queueDepth must be >0")
	}
	if s.Connect.Timeout < 0 {
		return fmt.Errorf("config: connect.timeout must be >=0")
	}
	if s.Diagnostics.EventsPerSecond < 0 {
		return fmt.Errorf("config: diagnostics.eventsPerSecond must be >=0")
	}
	if s.Diagnostics.Burst < 0 {
		return fmt.Errorf("config: diagnostics.burst must be >=0")
	}
	return nil
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies opts to a copy of base, leaving base untouched.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithReactorBackend overrides the reactor backend selection.
func WithReactorBackend(backend ReactorBackend) Option {
	return func(s *Settings) {
		if backend != "" {
			s.Reactor.Backend = backend
		}
	}
}

// WithReactorWorkers overrides the worker pool size.
func WithReactorWorkers(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.Reactor.Workers = n
		}
	}
}

// WithConnectTimeout overrides the connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Settings) {
		if d >= 0 {
			s.Connect.Timeout = d
		}
	}
}

// WithTelemetryEndpoint overrides the OTLP metrics endpoint.
func WithTelemetryEndpoint(endpoint string) Option {
	return func(s *Settings) {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint != "" {
			s.Telemetry.OTLPEndpoint = endpoint
		}
	}
}
