package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tiliavir/duty-time-tracker/internal/storage"
)

// Config is the root configuration for dtt, stored in ~/.dtt/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	Store    StoreConfig    `json:"store"`
	Encoding EncodingConfig `json:"encoding"`
	// Timezone is the IANA zone records are rendered in. Empty = local time.
	Timezone string         `json:"timezone"`
	Liveness LivenessConfig `json:"liveness"`
	Notify   NotifyConfig   `json:"notify"`
	Session  SessionConfig  `json:"session"`
	Admin    AdminConfig    `json:"admin"`
	LogLevel string         `json:"log_level"`

	// Dir is the data directory the configuration was loaded from.
	Dir string `json:"-"`
}

// StoreConfig selects the key/value backend.
type StoreConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `json:"backend"`
	// Path is relative to the data directory unless absolute.
	Path string `json:"path"`
}

// EncodingConfig selects how JSON blobs are stored.
type EncodingConfig struct {
	// Mode is "plain", "xor" or "sealed".
	Mode   string `json:"mode"`
	XORKey string `json:"xor_key"`
	Secret string `json:"secret"`
}

// LivenessConfig configures the game server probe.
type LivenessConfig struct {
	// Probe is "none", "http" or "flag".
	Probe            string      `json:"probe"`
	URL              string      `json:"url"`
	IntervalSeconds  int         `json:"interval_seconds"`
	TimeoutSeconds   int         `json:"timeout_seconds"`
	MaxInconclusive  int         `json:"max_inconclusive"`
	RequireLive      bool        `json:"require_live"`
	Token            string      `json:"token"`
	OAuth            OAuthConfig `json:"oauth"`
	RateLimitSeconds int         `json:"rate_limit_seconds"`
}

// OAuthConfig holds client credentials for a protected info endpoint.
type OAuthConfig struct {
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

// NotifyConfig selects where notices go besides the terminal.
type NotifyConfig struct {
	Desktop      bool   `json:"desktop"`
	SlackToken   string `json:"slack_token"`
	SlackChannel string `json:"slack_channel"`
}

// SessionConfig configures login sessions.
type SessionConfig struct {
	// Secret signs session tokens. Empty = generated into auth/session.key.
	Secret   string `json:"secret"`
	TTLHours int    `json:"ttl_hours"`
}

// AdminConfig tunes the admin overview.
type AdminConfig struct {
	IncludeAdmins       bool `json:"include_admins"`
	OnlineWindowMinutes int  `json:"online_window_minutes"`
}

const (
	DefaultBackend         = "file"
	DefaultEncoding        = "plain"
	DefaultProbe           = "none"
	DefaultIntervalSeconds = 5
	DefaultTimeoutSeconds  = 5
	DefaultTTLHours        = 12
	DefaultOnlineMinutes   = 5
	DefaultLogLevel        = "warn"
)

// defaultConfig returns a Config pre-filled with sensible defaults.
func defaultConfig(dir string) Config {
	cfg := Config{Dir: dir}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultBackend
	}
	if c.Store.Path == "" {
		if c.Store.Backend == "sqlite" {
			c.Store.Path = "dtt.db"
		} else {
			c.Store.Path = "store"
		}
	}
	if c.Encoding.Mode == "" {
		c.Encoding.Mode = DefaultEncoding
	}
	if c.Liveness.Probe == "" {
		c.Liveness.Probe = DefaultProbe
	}
	if c.Liveness.IntervalSeconds <= 0 {
		c.Liveness.IntervalSeconds = DefaultIntervalSeconds
	}
	if c.Liveness.TimeoutSeconds <= 0 {
		c.Liveness.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = DefaultTTLHours
	}
	if c.Admin.OnlineWindowMinutes <= 0 {
		c.Admin.OnlineWindowMinutes = DefaultOnlineMinutes
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// dtt configuration – ~/.dtt/config.json
//
// All settings are optional. Every value can also be set through a DTT_*
// environment variable or a .env file next to this one.
{
  // ── Storage ──────────────────────────────────────────────────────────────
  "store": {
    // "file" keeps one file per key, "sqlite" a single database file.
    "backend": "file",
    // Relative paths live under ~/.dtt.
    "path": "store"
  },

  // How JSON blobs are written:
  // • "plain"  – readable JSON (default)
  // • "xor"    – the browser tracker's obfuscation; hides nothing
  // • "sealed" – encrypted with a key derived from "secret"
  "encoding": {
    "mode": "plain",
    "xor_key": "",
    "secret": ""
  },

  // IANA timezone for record dates and clock times, e.g. "Europe/Paris".
  // Leave empty to use the local timezone.
  "timezone": "",

  // ── Game server liveness ─────────────────────────────────────────────────
  "liveness": {
    // "none", "http" (poll url) or "flag" (dtt flag up|down).
    // Off until the server reports its state; "flag" with require_live
    // true refuses dtt start until a server hook runs dtt flag up.
    "probe": "none",
    "url": "",
    "interval_seconds": 5,
    "timeout_seconds": 5,
    // End duty after this many failed probes in a row. 0 = never.
    "max_inconclusive": 0,
    // Refuse dtt start while the server is confirmed down.
    "require_live": false,
    // Bearer token, or OAuth2 client credentials, for a protected url.
    "token": "",
    "oauth": {
      "token_url": "",
      "client_id": "",
      "client_secret": "",
      "scopes": []
    },
    "rate_limit_seconds": 0
  },

  // ── Notices ──────────────────────────────────────────────────────────────
  "notify": {
    "desktop": false,
    "slack_token": "",
    "slack_channel": ""
  },

  "session": {
    "secret": "",
    "ttl_hours": 12
  },

  "admin": {
    "include_admins": false,
    "online_window_minutes": 5
  },

  // debug, info, warn or error. Logs go to stderr as JSON lines.
  "log_level": "warn"
}
`

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads the configuration from the data directory ($DTT_HOME or ~/.dtt).
func Load() (Config, error) {
	dir, err := storage.BaseDir()
	if err != nil {
		return defaultConfig(""), err
	}
	return LoadFrom(dir)
}

// LoadFrom reads <dir>/config.json, creating it with annotated defaults on
// first run. .env files in the working directory and in dir are loaded
// first; DTT_* variables override values from the file.
func LoadFrom(dir string) (Config, error) {
	for _, env := range []string{".env", filepath.Join(dir, ".env")} {
		if err := godotenv.Load(env); err != nil && !errors.Is(err, os.ErrNotExist) {
			return defaultConfig(dir), fmt.Errorf("loading %s: %w", env, err)
		}
	}

	path := filepath.Join(dir, "config.json")
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
	case err != nil:
		return defaultConfig(dir), fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(stripLineComments(data), &cfg); err != nil {
			return defaultConfig(dir), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
		}
	}

	cfg.Dir = dir
	if err := cfg.applyEnv(); err != nil {
		return defaultConfig(dir), err
	}
	cfg.fillDefaults()
	return cfg, cfg.Validate()
}

func getEnv(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"DTT_STORE_BACKEND":   &c.Store.Backend,
		"DTT_STORE_PATH":      &c.Store.Path,
		"DTT_ENCODING":        &c.Encoding.Mode,
		"DTT_ENCODING_SECRET": &c.Encoding.Secret,
		"DTT_TIMEZONE":        &c.Timezone,
		"DTT_PROBE":           &c.Liveness.Probe,
		"DTT_PROBE_URL":       &c.Liveness.URL,
		"DTT_PROBE_TOKEN":     &c.Liveness.Token,
		"DTT_SLACK_TOKEN":     &c.Notify.SlackToken,
		"DTT_SLACK_CHANNEL":   &c.Notify.SlackChannel,
		"DTT_SESSION_SECRET":  &c.Session.Secret,
		"DTT_LOG_LEVEL":       &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := getEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DTT_PROBE_INTERVAL":         &c.Liveness.IntervalSeconds,
		"DTT_PROBE_TIMEOUT":          &c.Liveness.TimeoutSeconds,
		"DTT_PROBE_MAX_INCONCLUSIVE": &c.Liveness.MaxInconclusive,
	}
	for key, dst := range ints {
		if v, ok := getEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"DTT_REQUIRE_LIVE":   &c.Liveness.RequireLive,
		"DTT_NOTIFY_DESKTOP": &c.Notify.Desktop,
	}
	for key, dst := range bools {
		if v, ok := getEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.backend %q: want file or sqlite", c.Store.Backend)
	}
	switch strings.ToLower(c.Encoding.Mode) {
	case "plain", "xor":
	case "sealed":
		if c.Encoding.Secret == "" {
			return errors.New("encoding.secret is required for sealed encoding")
		}
	default:
		return fmt.Errorf("encoding.mode %q: want plain, xor or sealed", c.Encoding.Mode)
	}
	switch c.Liveness.Probe {
	case "none", "flag":
	case "http":
		if c.Liveness.URL == "" {
			return errors.New("liveness.url is required for the http probe")
		}
	default:
		return fmt.Errorf("liveness.probe %q: want none, http or flag", c.Liveness.Probe)
	}
	return nil
}

// StorePath resolves the store path against the data directory.
func (c Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.Dir, c.Store.Path)
}

func (c LivenessConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c LivenessConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c LivenessConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitSeconds) * time.Second
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c AdminConfig) OnlineWindow() time.Duration {
	return time.Duration(c.OnlineWindowMinutes) * time.Minute
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
