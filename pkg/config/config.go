// Package config handles application configuration.
//
// Values start from built-in defaults, are overlaid by an optional YAML file
// and finally by environment variables, then validated as a whole.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultUserAgent is the browser identity presented to player pages.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0 Safari/537.36"

// Sandbox backend names.
const (
	BackendVM     = "vm"
	BackendChrome = "chrome"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"required"`

	// Serverless disables the listener; the api package serves requests instead.
	Serverless bool `koanf:"serverless"`

	// Page fetching
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required"`
	UserAgent    string        `koanf:"user_agent" validate:"required"`
	MaxBodyBytes int64         `koanf:"max_body_bytes" validate:"min=1024"`

	// Extraction engine
	PollSteps       int           `koanf:"poll_steps" validate:"min=1,max=1000"`
	PollInterval    time.Duration `koanf:"poll_interval" validate:"required"`
	ScriptTimeout   time.Duration `koanf:"script_timeout" validate:"required"`
	ScriptAllowList []string      `koanf:"script_allowlist"`

	// Sandbox backends
	SandboxBackend string       `koanf:"sandbox_backend" validate:"oneof=vm chrome"`
	Chrome         ChromeConfig `koanf:"chrome"`

	// Proxy settings
	GlobalProxies   []string         `koanf:"global_proxies"`
	TransportRoutes []TransportRoute `koanf:"transport_routes" validate:"dive"`
	UTLSDomains     []string         `koanf:"utls_domains"`

	// FlareSolverr settings (for Cloudflare-protected player hosts)
	FlareSolverrURL     string        `koanf:"flaresolverr_url" validate:"omitempty,url"`
	FlareSolverrTimeout time.Duration `koanf:"flaresolverr_timeout" validate:"required"`
	FlareSolverrDomains []string      `koanf:"flaresolverr_domains"`

	// Logging
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	LogJSON  bool   `koanf:"log_json"`
}

// ChromeConfig holds settings for the headless Chrome sandbox backend.
type ChromeConfig struct {
	Path      string   `koanf:"path"`
	Headless  bool     `koanf:"headless"`
	NoSandbox bool     `koanf:"no_sandbox"`
	Domains   []string `koanf:"domains"`
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string `koanf:"url" validate:"required"`
	Proxy      string `koanf:"proxy"`
	DisableSSL bool   `koanf:"disable_ssl"`
	Direct     bool   `koanf:"direct"` // bypass the global proxy
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                3000,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        60 * time.Second,
		IdleTimeout:         60 * time.Second,
		FetchTimeout:        8 * time.Second,
		UserAgent:           DefaultUserAgent,
		MaxBodyBytes:        10 << 20,
		PollSteps:           40,
		PollInterval:        50 * time.Millisecond,
		ScriptTimeout:       time.Second,
		ScriptAllowList:     []string{"jquery", "player", "fasel"},
		SandboxBackend:      BackendVM,
		Chrome:              ChromeConfig{Headless: true},
		FlareSolverrTimeout: 60 * time.Second,
		LogLevel:            "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// CONFIG_FILE when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides cfg with any environment variables that are set.
func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.Serverless = getEnvBool("VERCEL", cfg.Serverless)

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.UserAgent = getEnvString("USER_AGENT", cfg.UserAgent)
	cfg.MaxBodyBytes = int64(getEnvInt("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))

	cfg.PollSteps = getEnvInt("POLL_STEPS", cfg.PollSteps)
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.ScriptTimeout = getEnvDuration("SCRIPT_TIMEOUT", cfg.ScriptTimeout)
	cfg.ScriptAllowList = getEnvStringSlice("SCRIPT_ALLOWLIST", cfg.ScriptAllowList)

	cfg.SandboxBackend = strings.ToLower(getEnvString("SANDBOX_BACKEND", cfg.SandboxBackend))
	cfg.Chrome.Path = getEnvString("CHROME_PATH", cfg.Chrome.Path)
	cfg.Chrome.Headless = getEnvBool("CHROME_HEADLESS", cfg.Chrome.Headless)
	cfg.Chrome.NoSandbox = getEnvBool("CHROME_NO_SANDBOX", cfg.Chrome.NoSandbox)
	cfg.Chrome.Domains = getEnvStringSlice("CHROME_DOMAINS", cfg.Chrome.Domains)

	cfg.GlobalProxies = getEnvStringSlice("GLOBAL_PROXIES", cfg.GlobalProxies)
	if routes := parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES")); routes != nil {
		cfg.TransportRoutes = routes
	}
	cfg.UTLSDomains = getEnvStringSlice("UTLS_DOMAINS", cfg.UTLSDomains)

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	cfg.FlareSolverrURL = getEnvString("FLARESOLVERR_URL", cfg.FlareSolverrURL)
	cfg.FlareSolverrTimeout = getEnvDuration("FLARESOLVERR_TIMEOUT", cfg.FlareSolverrTimeout)
	cfg.FlareSolverrDomains = getEnvStringSlice("FLARESOLVERR_DOMAINS", cfg.FlareSolverrDomains)

	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", cfg.LogLevel))
	cfg.LogJSON = getEnvBool("LOG_JSON", cfg.LogJSON)
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2, DIRECT=true}
func parseTransportRoutes(s string) []TransportRoute {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	for _, part := range strings.Split(s, "}, {") {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)

			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

// getEnvDuration accepts either plain milliseconds ("8000") or a Go duration ("8s").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
