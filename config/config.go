package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config")
)

// Duration reads "90s"/"5m" style values from config files and the
// environment.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Port               int      `json:"port,omitempty" env:"HITME_PORT"`
	DBPath             string   `json:"db_path,omitempty" env:"HITME_DB_PATH"`
	ReadTimeout        int      `json:"read_timeout,omitempty" env:"HITME_READ_TIMEOUT"`   // seconds
	WriteTimeout       int      `json:"write_timeout,omitempty" env:"HITME_WRITE_TIMEOUT"` // seconds
	ControlSocket      string   `json:"control_socket,omitempty" env:"HITME_CONTROL_SOCKET"`
	SweepInterval      Duration `json:"sweep_interval,omitempty" env:"HITME_SWEEP_INTERVAL"`
	CountdownInterval  Duration `json:"countdown_interval,omitempty" env:"HITME_COUNTDOWN_INTERVAL"`
	ExtendDuration     Duration `json:"extend_duration,omitempty" env:"HITME_EXTEND_DURATION"`
	DefaultLiveMinutes int      `json:"default_live_minutes,omitempty" env:"HITME_DEFAULT_LIVE_MINUTES"`
	Modes              []string `json:"modes,omitempty" env:"HITME_MODES" envSeparator:","`
	LogLevel           string   `json:"log_level,omitempty" env:"HITME_LOG_LEVEL"`
	LogFormat          string   `json:"log_format,omitempty" env:"HITME_LOG_FORMAT"`
}

func Default() Config {
	return Config{
		Port:               3215,
		DBPath:             "hitme.db",
		ReadTimeout:        120,
		WriteTimeout:       30,
		ControlSocket:      "/tmp/hitme.sock",
		SweepInterval:      Duration(time.Minute),
		CountdownInterval:  Duration(time.Second),
		ExtendDuration:     Duration(time.Hour),
		DefaultLiveMinutes: 30,
		Modes:              []string{"work", "family", "social"},
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the configuration. Later sources win:
// defaults, the JSONC file named by --config or HITME_CONFIG, HITME_*
// environment variables, then command-line flags.
func Load(args []string, environ map[string]string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("hitme", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a JSON (with comments) config file")
	port := fs.Int("port", cfg.Port, "TCP port to listen on")
	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	socket := fs.String("control-socket", cfg.ControlSocket, "Unix socket for management commands")
	sweep := fs.Duration("sweep-interval", cfg.SweepInterval.D(), "How often pending requests are checked for expiry")
	extend := fs.Duration("extend", cfg.ExtendDuration.D(), "How long an extended request stays pending")
	liveMinutes := fs.Int("live-minutes", cfg.DefaultLiveMinutes, "Live window used when the client does not choose one")
	modes := fs.StringSlice("modes", cfg.Modes, "Contact modes that always have a ranking")
	logLevel := fs.String("log-level", cfg.LogLevel, "Logging level: debug|info|warn|error")
	logFormat := fs.String("log-format", cfg.LogFormat, "Logging format: text|json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	path := *configPath
	if path == "" {
		path = environ["HITME_CONFIG"]
	}
	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}

	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if fs.Changed("control-socket") {
		cfg.ControlSocket = *socket
	}
	if fs.Changed("sweep-interval") {
		cfg.SweepInterval = Duration(*sweep)
	}
	if fs.Changed("extend") {
		cfg.ExtendDuration = Duration(*extend)
	}
	if fs.Changed("live-minutes") {
		cfg.DefaultLiveMinutes = *liveMinutes
	}
	if fs.Changed("modes") {
		cfg.Modes = *modes
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environ turns os.Environ into the map Load expects.
func Environ() map[string]string {
	environ := os.Environ()
	out := make(map[string]string, len(environ))
	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			out[k] = v
		}
	}
	return out
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", errConfigInvalid, c.Port)
	case strings.TrimSpace(c.DBPath) == "":
		return fmt.Errorf("%w: db_path is empty", errConfigInvalid)
	case c.ReadTimeout <= 0 || c.WriteTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", errConfigInvalid)
	case c.SweepInterval <= 0 || c.CountdownInterval <= 0 || c.ExtendDuration <= 0:
		return fmt.Errorf("%w: intervals must be positive", errConfigInvalid)
	case c.DefaultLiveMinutes <= 0:
		return fmt.Errorf("%w: default_live_minutes must be positive", errConfigInvalid)
	}
	return nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

// merge copies the fields set in override over base.
func merge(base, override Config) Config {
	if override.Port != 0 {
		base.Port = override.Port
	}
	if override.DBPath != "" {
		base.DBPath = override.DBPath
	}
	if override.ReadTimeout != 0 {
		base.ReadTimeout = override.ReadTimeout
	}
	if override.WriteTimeout != 0 {
		base.WriteTimeout = override.WriteTimeout
	}
	if override.ControlSocket != "" {
		base.ControlSocket = override.ControlSocket
	}
	if override.SweepInterval != 0 {
		base.SweepInterval = override.SweepInterval
	}
	if override.CountdownInterval != 0 {
		base.CountdownInterval = override.CountdownInterval
	}
	if override.ExtendDuration != 0 {
		base.ExtendDuration = override.ExtendDuration
	}
	if override.DefaultLiveMinutes != 0 {
		base.DefaultLiveMinutes = override.DefaultLiveMinutes
	}
	if override.Modes != nil {
		base.Modes = override.Modes
	}
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		base.LogFormat = override.LogFormat
	}
	return base
}
