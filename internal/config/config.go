package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("3s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func dur(v time.Duration) Duration { return Duration{v} }

// Config represents the global ~/.huddle/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	Backend        Backend  `toml:"backend"`
	Push           Push     `toml:"push"`
	Delivery       Delivery `toml:"delivery"`
	Notify         Notify   `toml:"notify"`
	Outbox         Outbox   `toml:"outbox"`
	API            API      `toml:"api"`
	Log            Log      `toml:"log"`
}

// Backend configures the collaboration backend's REST API.
type Backend struct {
	BaseURL      string   `toml:"base_url"`
	Token        string   `toml:"token"`
	SignInURL    string   `toml:"sign_in_url"`
	Timeout      Duration `toml:"timeout"`
	Retries      int      `toml:"retries"`
	RetryWait    Duration `toml:"retry_wait"`
	RetryMaxWait Duration `toml:"retry_max_wait"`
}

// Push configures the websocket push channel. An empty URL is derived from
// the backend base URL.
type Push struct {
	URL              string   `toml:"url"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	WriteWait        Duration `toml:"write_wait"`
	PingPeriod       Duration `toml:"ping_period"`
	PongWait         Duration `toml:"pong_wait"`
}

type Delivery struct {
	PollInterval        Duration `toml:"poll_interval"`
	ConnectTimeout      Duration `toml:"connect_timeout"`
	ReconnectMin        Duration `toml:"reconnect_min"`
	ReconnectMax        Duration `toml:"reconnect_max"`
	ReconnectMultiplier float64  `toml:"reconnect_multiplier"`
}

type Notify struct {
	ToastTTL      Duration `toml:"toast_ttl"`
	NativeTTL     Duration `toml:"native_ttl"`
	PanelTTL      Duration `toml:"panel_ttl"`
	PanelLimit    int      `toml:"panel_limit"`
	NativeEnabled bool     `toml:"native_enabled"`
	Icon          string   `toml:"icon"`
	// LedgerTTL bounds how long notified ids are remembered across restarts.
	LedgerTTL  Duration `toml:"ledger_ttl"`
	LedgerSize int      `toml:"ledger_size"`
}

type Outbox struct {
	SendTimeout Duration `toml:"send_timeout"`
}

type API struct {
	Metrics bool `toml:"metrics"`
}

type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend: Backend{
			Timeout:      dur(10 * time.Second),
			Retries:      3,
			RetryWait:    dur(time.Second),
			RetryMaxWait: dur(5 * time.Second),
		},
		Push: Push{
			HandshakeTimeout: dur(10 * time.Second),
			WriteWait:        dur(3 * time.Second),
			PingPeriod:       dur(20 * time.Second),
			PongWait:         dur(25 * time.Second),
		},
		Delivery: Delivery{
			PollInterval:        dur(3 * time.Second),
			ConnectTimeout:      dur(10 * time.Second),
			ReconnectMin:        dur(time.Second),
			ReconnectMax:        dur(60 * time.Second),
			ReconnectMultiplier: 1.5,
		},
		Notify: Notify{
			ToastTTL:      dur(5 * time.Second),
			NativeTTL:     dur(5 * time.Second),
			PanelTTL:      dur(3 * time.Second),
			PanelLimit:    5,
			NativeEnabled: true,
			LedgerTTL:     dur(7 * 24 * time.Hour),
			LedgerSize:    4096,
		},
		Outbox: Outbox{SendTimeout: dur(15 * time.Second)},
		API:    API{Metrics: true},
		Log:    Log{Level: "info"},
	}
}

// Normalize fills unset or invalid values with defaults.
func (c *Config) Normalize() {
	d := Default()
	fill := func(v *Duration, def Duration) {
		if v.Duration <= 0 {
			*v = def
		}
	}
	fill(&c.Backend.Timeout, d.Backend.Timeout)
	fill(&c.Backend.RetryWait, d.Backend.RetryWait)
	fill(&c.Backend.RetryMaxWait, d.Backend.RetryMaxWait)
	if c.Backend.Retries < 0 {
		c.Backend.Retries = 0
	}
	fill(&c.Push.HandshakeTimeout, d.Push.HandshakeTimeout)
	fill(&c.Push.WriteWait, d.Push.WriteWait)
	fill(&c.Push.PingPeriod, d.Push.PingPeriod)
	fill(&c.Push.PongWait, d.Push.PongWait)
	if c.Push.PongWait.Duration <= c.Push.PingPeriod.Duration {
		c.Push.PongWait = dur(c.Push.PingPeriod.Duration * 5 / 4)
	}
	fill(&c.Delivery.PollInterval, d.Delivery.PollInterval)
	fill(&c.Delivery.ConnectTimeout, d.Delivery.ConnectTimeout)
	fill(&c.Delivery.ReconnectMin, d.Delivery.ReconnectMin)
	fill(&c.Delivery.ReconnectMax, d.Delivery.ReconnectMax)
	if c.Delivery.ReconnectMultiplier < 1 {
		c.Delivery.ReconnectMultiplier = d.Delivery.ReconnectMultiplier
	}
	fill(&c.Notify.ToastTTL, d.Notify.ToastTTL)
	fill(&c.Notify.NativeTTL, d.Notify.NativeTTL)
	fill(&c.Notify.PanelTTL, d.Notify.PanelTTL)
	fill(&c.Notify.LedgerTTL, d.Notify.LedgerTTL)
	if c.Notify.PanelLimit <= 0 {
		c.Notify.PanelLimit = d.Notify.PanelLimit
	}
	if c.Notify.LedgerSize <= 0 {
		c.Notify.LedgerSize = d.Notify.LedgerSize
	}
	fill(&c.Outbox.SendTimeout, d.Outbox.SendTimeout)
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
}

// PushURL returns the configured push URL, or one derived from the backend
// base URL (http -> ws, https -> wss, path /api/v1/push).
func (c *Config) PushURL() (string, error) {
	if c.Push.URL != "" {
		return c.Push.URL, nil
	}
	if c.Backend.BaseURL == "" {
		return "", errors.New("backend.base_url is not set")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse backend.base_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("backend.base_url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/push"
	return u.String(), nil
}

// Validate reports settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if _, err := c.PushURL(); err != nil {
		return err
	}
	return nil
}

// Load reads config from the given path over the defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if tok := os.Getenv("HUDDLE_TOKEN"); tok != "" {
		cfg.Backend.Token = tok
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if tok := os.Getenv("HUDDLE_TOKEN"); tok != "" {
			cfg.Backend.Token = tok
		}
		return cfg, nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
