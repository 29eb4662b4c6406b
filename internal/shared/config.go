package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// ConfigEnv names the environment variable that overrides the config file location.
const ConfigEnv = "SPOTIDAL_CONFIG"

// Token store backends
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Tokens      TokenStoreConfig  `toml:"tokens"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Batch       BatchConfig       `toml:"batch"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	Tidal   TidalConfig   `toml:"tidal"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string      `toml:"client_id"`
	ClientSecret string      `toml:"client_secret"`
	RedirectURI  string      `toml:"redirect_uri"`
	Token        TokenConfig `toml:"token"`
}

// TidalConfig contains Tidal developer app credentials.
//
// Tidal uses authorization code with PKCE, so ClientSecret may be empty.
type TidalConfig struct {
	ClientID     string      `toml:"client_id"`
	ClientSecret string      `toml:"client_secret"`
	RedirectURI  string      `toml:"redirect_uri"`
	CountryCode  string      `toml:"country_code"`
	Scopes       []string    `toml:"scopes"`
	Token        TokenConfig `toml:"token"`
}

// TokenConfig is an OAuth token persisted in the config file when the file token store is used.
type TokenConfig struct {
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	TokenType    string    `toml:"token_type"`
	Expiry       time.Time `toml:"expiry"`
}

// TokenStoreConfig selects where OAuth tokens are kept.
type TokenStoreConfig struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains the OAuth callback server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// BatchConfig controls chunking and pacing of vendor requests.
type BatchConfig struct {
	ChunkSize           int     `toml:"chunk_size"`
	DelayMS             int     `toml:"delay_ms"`
	ChunkTimeoutSeconds int     `toml:"chunk_timeout_seconds"`
	SpotifyPageDelayMS  int     `toml:"spotify_page_delay_ms"`
	TidalPageDelayMS    int     `toml:"tidal_page_delay_ms"`
	MaxPages            int     `toml:"max_pages"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig sets the default log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Token converts the stored fields to an [oauth2.Token], or nil when nothing is stored.
func (t TokenConfig) Token() *oauth2.Token {
	if t.AccessToken == "" && t.RefreshToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// NewTokenConfig copies the persisted fields of an [oauth2.Token].
func NewTokenConfig(tok *oauth2.Token) TokenConfig {
	if tok == nil {
		return TokenConfig{}
	}
	return TokenConfig{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

// Delay returns the pause between chunks.
//
// An explicit delay_ms = 0 means no pause. The batch options treat a zero duration as
// "use the default", so it is returned as a negative duration.
func (b BatchConfig) Delay() time.Duration {
	return pauseMS(b.DelayMS)
}

// pauseMS converts a validated, non-negative millisecond setting; zero disables the pause.
func pauseMS(ms int) time.Duration {
	if ms == 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// ChunkTimeout returns the per-chunk deadline, zero meaning none.
func (b BatchConfig) ChunkTimeout() time.Duration {
	return time.Duration(b.ChunkTimeoutSeconds) * time.Second
}

// SpotifyPageDelay returns the pause between Spotify pages.
func (b BatchConfig) SpotifyPageDelay() time.Duration {
	return pauseMS(b.SpotifyPageDelayMS)
}

// TidalPageDelay returns the pause between Tidal pages.
func (b BatchConfig) TidalPageDelay() time.Duration {
	return pauseMS(b.TidalPageDelayMS)
}

// Validate implements [validation.Validatable].
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Credentials),
		validation.Field(&c.Tokens),
		validation.Field(&c.Database),
		validation.Field(&c.Server),
		validation.Field(&c.Batch),
		validation.Field(&c.Log),
	)
}

func (c CredentialsConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Spotify),
		validation.Field(&c.Tidal),
	)
}

func (s SpotifyConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.RedirectURI, is.URL),
	)
}

func (t TidalConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.RedirectURI, is.URL),
		validation.Field(&t.CountryCode, validation.Length(2, 2), is.UpperCase),
	)
}

func (t TokenStoreConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Backend, validation.In(StoreFile, StoreSQLite, StoreRedis)),
		validation.Field(&t.RedisAddr, validation.When(t.Backend == StoreRedis, validation.Required)),
		validation.Field(&t.RedisDB, validation.Min(0)),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Min(1), validation.Max(65535)),
	)
}

func (b BatchConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ChunkSize, validation.Min(1), validation.Max(100)),
		validation.Field(&b.DelayMS, validation.Min(0)),
		validation.Field(&b.ChunkTimeoutSeconds, validation.Min(0)),
		validation.Field(&b.SpotifyPageDelayMS, validation.Min(0)),
		validation.Field(&b.TidalPageDelayMS, validation.Min(0)),
		validation.Field(&b.MaxPages, validation.Min(0)),
		validation.Field(&b.RequestsPerSecond, validation.Min(0.0)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
	)
}

// ConfigPath returns the config location from [ConfigEnv], defaulting to config.toml.
func ConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	return "config.toml"
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the defaults from [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrMissingConfig, err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path as TOML, replacing the file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
