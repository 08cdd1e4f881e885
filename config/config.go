// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONVEY_"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	App      AppConfig      `yaml:"app"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Cookies  CookieConfig   `yaml:"cookies"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	OpenAPI  OpenAPIConfig  `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AppConfig locates the application's module folders.
type AppConfig struct {
	// Root is the directory containing the application folder.
	Root string `yaml:"root"`

	// Name is the application folder under Root holding models/,
	// controllers/ and admin/.
	Name string `yaml:"name"`

	// Suffix is the module file extension.
	Suffix string `yaml:"suffix"`

	// ExcludeMarker prefixes files and folders that discovery skips.
	ExcludeMarker string `yaml:"exclude_marker"`

	// StripSegments lists trailing controller segments dropped before a URL
	// is inferred, so controllers/posts/index serves /posts.
	StripSegments []string `yaml:"strip_segments"`
}

// AdminConfig configures the generated admin routes.
type AdminConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BasePath string `yaml:"base_path"`

	// Username and PasswordHash enable basic auth. PasswordHash is a bcrypt
	// hash, e.g. from "convey hash-password". Prefer CONVEY_ADMIN_PASSWORD_HASH:
	// ${VAR} expansion of the file mangles the '$' separators of a hash.
	Username     string `yaml:"username,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// DatabaseConfig configures record storage.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// CookieConfig configures cookie persistence.
type CookieConfig struct {
	// Secret signs cookie values. Empty leaves them unsigned.
	Secret   string `yaml:"secret,omitempty"`
	Domain   string `yaml:"domain,omitempty"`
	Secure   bool   `yaml:"secure"`
	HTTPOnly bool   `yaml:"http_only"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OpenAPIConfig configures the route-table OpenAPI document and Swagger UI.
type OpenAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title,omitempty"`
}

// Load reads configuration from a YAML file. A .env file next to it is
// loaded first so ${VAR} references and overrides can use it.
func Load(path string) (*Config, error) {
	loadDotEnv(dotEnvPath(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML data.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	CONVEY_SERVER_HOST       - Server host (default: 0.0.0.0)
//	CONVEY_SERVER_PORT       - Server port (default: 8080)
//	CONVEY_APP_ROOT          - Directory containing the app folder (default: .)
//	CONVEY_APP_NAME          - App folder name (default: app)
//	CONVEY_ADMIN_ENABLED     - Generate admin routes (default: true)
//	CONVEY_ADMIN_BASE_PATH   - Admin mount path (default: /admin)
//	CONVEY_DATABASE_DSN      - SQLite path (default: convey.db)
//	CONVEY_COOKIE_SECRET     - Cookie signing secret
//	CONVEY_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	CONVEY_LOG_FORMAT        - Log format: json or console (default: json)
//	CONVEY_METRICS_ENABLED   - Enable /metrics endpoint (default: true)
//	CONVEY_OPENAPI_ENABLED   - Enable OpenAPI/Swagger (default: true)
func LoadFromEnv() (*Config, error) {
	loadDotEnv(".env")

	cfg := Default()
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// Default returns a configuration with every toggle on and defaults applied.
func Default() *Config {
	cfg := &Config{
		Admin:   AdminConfig{Enabled: true},
		Cookies: CookieConfig{HTTPOnly: true},
		Metrics: MetricsConfig{Enabled: true},
		OpenAPI: OpenAPIConfig{Enabled: true},
	}
	setDefaults(cfg)
	return cfg
}

func dotEnvPath(configPath string) string {
	dir := "."
	if idx := strings.LastIndexAny(configPath, `/\`); idx >= 0 {
		dir = configPath[:idx]
	}
	return dir + "/.env"
}

// loadDotEnv loads a .env file without overriding variables already set.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// applyEnvOverrides applies CONVEY_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := env("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := env("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := env("SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := env("SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// App
	if v := env("APP_ROOT"); v != "" {
		cfg.App.Root = v
	}
	if v := env("APP_NAME"); v != "" {
		cfg.App.Name = v
	}
	if v := env("APP_SUFFIX"); v != "" {
		cfg.App.Suffix = v
	}
	if v := env("APP_EXCLUDE_MARKER"); v != "" {
		cfg.App.ExcludeMarker = v
	}
	if v := env("APP_STRIP_SEGMENTS"); v != "" {
		cfg.App.StripSegments = splitList(v)
	}

	// Admin
	if v := env("ADMIN_ENABLED"); v != "" {
		cfg.Admin.Enabled = parseBool(v)
	}
	if v := env("ADMIN_BASE_PATH"); v != "" {
		cfg.Admin.BasePath = v
	}
	if v := env("ADMIN_USERNAME"); v != "" {
		cfg.Admin.Username = v
	}
	if v := env("ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Admin.PasswordHash = v
	}

	// Database
	if v := env("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := env("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Cookies
	if v := env("COOKIE_SECRET"); v != "" {
		cfg.Cookies.Secret = v
	}
	if v := env("COOKIE_SECURE"); v != "" {
		cfg.Cookies.Secure = parseBool(v)
	}

	// Logging
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics and OpenAPI
	if v := env("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := env("OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.App.Root == "" {
		cfg.App.Root = "."
	}
	if cfg.App.Name == "" {
		cfg.App.Name = "app"
	}
	if cfg.App.Suffix == "" {
		cfg.App.Suffix = ".yaml"
	}
	if cfg.App.ExcludeMarker == "" {
		cfg.App.ExcludeMarker = "!"
	}
	if cfg.App.StripSegments == nil {
		cfg.App.StripSegments = []string{"index"}
	}

	if cfg.Admin.BasePath == "" {
		cfg.Admin.BasePath = "/admin"
	}
	if cfg.Admin.PasswordHash != "" && cfg.Admin.Username == "" {
		cfg.Admin.Username = "admin"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "convey.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	if strings.ContainsAny(cfg.App.Name, `/\`) {
		return fmt.Errorf("app.name must be a single folder name, got %q", cfg.App.Name)
	}
	if !strings.HasPrefix(cfg.App.Suffix, ".") {
		return fmt.Errorf("app.suffix must start with '.', got %q", cfg.App.Suffix)
	}

	if !strings.HasPrefix(cfg.Admin.BasePath, "/") {
		return fmt.Errorf("admin.base_path must start with '/', got %q", cfg.Admin.BasePath)
	}

	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
