package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/deliverycore/limits"
)

// ErrInvalidConfig indicates a configuration value failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration decoded from strings such as "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the deliveryctl configuration.
type Config struct {
	Storage     Storage     `toml:"storage"`
	Attachments Attachments `toml:"attachments"`
	Unlock      Unlock      `toml:"unlock"`
	Relay       Relay       `toml:"relay"`
	Logging     Logging     `toml:"logging"`
}

// Storage locates the file-backed stores.
type Storage struct {
	DataDir string `toml:"data_dir"`
}

// Attachments configures the materializer.
type Attachments struct {
	TempDir        string `toml:"temp_dir,omitempty"`
	CopyBufferSize int    `toml:"copy_buffer_size"`
	MaxSize        int64  `toml:"max_size"`
}

// Unlock configures the key cache.
type Unlock struct {
	// IdleTimeout locks the master secret after inactivity. Zero disables.
	IdleTimeout Duration `toml:"idle_timeout"`
}

// Relay configures the relay transport.
type Relay struct {
	Address     string   `toml:"address,omitempty"`
	PublicKey   string   `toml:"public_key,omitempty"`
	DialTimeout Duration `toml:"dial_timeout"`
	// Listen is the address used by "deliveryctl relay".
	Listen string `toml:"listen,omitempty"`
}

// Logging configures logrus.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultDataDir returns ~/.deliverycore, or a relative directory when the
// home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deliverycore"
	}
	return filepath.Join(home, ".deliverycore")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: Storage{DataDir: DefaultDataDir()},
		Attachments: Attachments{
			CopyBufferSize: limits.CopyBufferSize,
			MaxSize:        limits.MaxAttachmentSize,
		},
		Unlock: Unlock{IdleTimeout: Duration{5 * time.Minute}},
		Relay: Relay{
			DialTimeout: Duration{10 * time.Second},
			Listen:      ":33445",
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("loading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML data over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes the configuration to TOML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("%w: storage.data_dir is empty", ErrInvalidConfig)
	}
	if c.Attachments.CopyBufferSize <= 0 || c.Attachments.CopyBufferSize > 1<<20 {
		return fmt.Errorf("%w: attachments.copy_buffer_size %d out of range", ErrInvalidConfig, c.Attachments.CopyBufferSize)
	}
	if c.Attachments.MaxSize <= 0 || c.Attachments.MaxSize > limits.MaxAttachmentSize {
		return fmt.Errorf("%w: attachments.max_size %d out of range", ErrInvalidConfig, c.Attachments.MaxSize)
	}
	if c.Unlock.IdleTimeout.Duration < 0 {
		return fmt.Errorf("%w: unlock.idle_timeout is negative", ErrInvalidConfig)
	}
	if c.Relay.DialTimeout.Duration <= 0 {
		return fmt.Errorf("%w: relay.dial_timeout must be positive", ErrInvalidConfig)
	}
	if c.Relay.PublicKey != "" {
		raw, err := hex.DecodeString(c.Relay.PublicKey)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: relay.public_key must be 64 hex characters", ErrInvalidConfig)
		}
	}
	if c.Relay.Address != "" && c.Relay.PublicKey == "" {
		return fmt.Errorf("%w: relay.address requires relay.public_key", ErrInvalidConfig)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
