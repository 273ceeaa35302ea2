package logqueue

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the on-disk configuration of a logqueue deployment.
type Config struct {
	Directory string         `toml:"directory"`
	Queue     string         `toml:"queue"`
	Producer  ProducerConfig `toml:"producer"`
	Shipper   ShipperConfig  `toml:"shipper"`
	Log       LogConfig      `toml:"log"`
}

// ProducerConfig sizes the asynchronous enqueue pool. Zero workers means
// records are enqueued on the caller's goroutine.
type ProducerConfig struct {
	Workers uint `toml:"workers"`
	Buffer  uint `toml:"buffer"`
}

type ShipperConfig struct {
	IdleInterval    Duration `toml:"idle_interval"`
	MaxIdleInterval Duration `toml:"max_idle_interval"`
	RetryInterval   Duration `toml:"retry_interval"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string such as "250ms".
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

// Default returns the configuration used when no file is present.
func Default() *Config {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}

	return &Config{
		Directory: filepath.Join(dir, "logqueue"),
		Queue:     "logs",
		Producer: ProducerConfig{
			Workers: 0,
			Buffer:  1000,
		},
		Shipper: ShipperConfig{
			IdleInterval:    Duration{250 * time.Millisecond},
			MaxIdleInterval: Duration{5 * time.Second},
			RetryInterval:   Duration{time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "logqueue", "config.toml"), nil
}

// Load reads the configuration at path over the defaults. An empty path
// means the default location, which may be absent; an explicit path must
// exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return nil, err
		}
	}

	file, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err = decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Directory) == "" {
		errs = append(errs, errors.New("directory must be set"))
	}
	if strings.TrimSpace(c.Queue) == "" {
		errs = append(errs, errors.New("queue must be set"))
	}
	if c.Shipper.IdleInterval.Duration <= 0 {
		errs = append(errs, errors.New("shipper.idle_interval must be positive"))
	}
	if c.Shipper.MaxIdleInterval.Duration < c.Shipper.IdleInterval.Duration {
		errs = append(errs, errors.New("shipper.max_idle_interval must not be less than shipper.idle_interval"))
	}
	if c.Shipper.RetryInterval.Duration <= 0 {
		errs = append(errs, errors.New("shipper.retry_interval must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be auto, text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

func (c *Config) producerOptions(logger *slog.Logger) ProducerOptions {
	return ProducerOptions{
		Workers: c.Producer.Workers,
		Buffer:  c.Producer.Buffer,
		Logger:  logger,
	}
}

func (c *Config) shipperOptions(logger *slog.Logger) ShipperOptions {
	return ShipperOptions{
		IdleInterval:    c.Shipper.IdleInterval.Duration,
		MaxIdleInterval: c.Shipper.MaxIdleInterval.Duration,
		RetryInterval:   c.Shipper.RetryInterval.Duration,
		Logger:          logger,
	}
}
