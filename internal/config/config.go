package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers understood by db.Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Database struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	// Path is the SQLite file (or ":memory:") when Driver is sqlite.
	Path string `yaml:"path"`
}

// DSN returns the Postgres connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type Log struct {
	Level string `yaml:"level"`
}

// SlogLevel parses Level, falling back to info.
func (l Log) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Server is the attendanced configuration.
type Server struct {
	HTTP struct {
		Addr           string        `yaml:"addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"http"`

	Database Database `yaml:"database"`

	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		TokenTTL   time.Duration `yaml:"token_ttl"`
		LoginRate  float64       `yaml:"login_rate"`
		LoginBurst int           `yaml:"login_burst"`
	} `yaml:"auth"`

	Attendance struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"attendance"`

	Activity struct {
		DefaultInterval int `yaml:"default_interval"`
	} `yaml:"activity"`

	Discord struct {
		Token     string `yaml:"token"`
		ChannelID string `yaml:"channel_id"`
	} `yaml:"discord"`

	Log Log `yaml:"log"`
}

// Location resolves the attendance timezone. Empty means the server's local zone.
func (c *Server) Location() (*time.Location, error) {
	if c.Attendance.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Attendance.Timezone)
}

// Agent is the workagent configuration.
type Agent struct {
	Server struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Agent struct {
		StatePath        string        `yaml:"state_path"`
		PollInterval     time.Duration `yaml:"poll_interval"`
		SampleInterval   time.Duration `yaml:"sample_interval"`
		TransmitInterval time.Duration `yaml:"transmit_interval"`
		IdleThreshold    time.Duration `yaml:"idle_threshold"`
		ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
	} `yaml:"agent"`

	Log Log `yaml:"log"`
}

// LoadServer reads the server config from path.
func LoadServer(path string) (*Server, error) {
	var cfg Server
	if err := load(path, &cfg); err != nil {
		return nil, err
	}

	// Convert DB_PORT from string to int if it's an environment variable
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		cfg.Database.Port = port
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAgent reads the agent config from path. A missing file yields defaults.
func LoadAgent(path string) (*Agent, error) {
	var cfg Agent
	if err := load(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), out); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	return nil
}

// expandEnv replaces ${NAME} placeholders with environment values. Unset
// variables are left as-is so validation can name them.
func expandEnv(content string) string {
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}
	return content
}

func (c *Server) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Driver == DriverPostgres {
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.LoginRate == 0 {
		c.Auth.LoginRate = 1
	}
	if c.Auth.LoginBurst == 0 {
		c.Auth.LoginBurst = 5
	}
	if c.Activity.DefaultInterval == 0 {
		c.Activity.DefaultInterval = 30
	}
}

// Validate reports every problem at once.
func (c *Server) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, errors.New("database.host and database.dbname are required for postgres"))
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" || strings.HasPrefix(c.Auth.JWTSecret, "${") {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("attendance.timezone: %w", err))
	}
	if (c.Discord.Token == "") != (c.Discord.ChannelID == "") {
		errs = append(errs, errors.New("discord.token and discord.channel_id must be set together"))
	}
	return errors.Join(errs...)
}

func (c *Agent) applyDefaults() error {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Agent.StatePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("finding config directory: %w", err)
		}
		c.Agent.StatePath = dir + string(os.PathSeparator) + "workagent" + string(os.PathSeparator) + "state.db"
	}
	if c.Agent.PollInterval == 0 {
		c.Agent.PollInterval = 30 * time.Second
	}
	if c.Agent.SampleInterval == 0 {
		c.Agent.SampleInterval = 3 * time.Second
	}
	if c.Agent.TransmitInterval == 0 {
		c.Agent.TransmitInterval = 30 * time.Second
	}
	if c.Agent.IdleThreshold == 0 {
		c.Agent.IdleThreshold = 60 * time.Second
	}
	if c.Agent.ShutdownGrace == 0 {
		c.Agent.ShutdownGrace = 5 * time.Second
	}
	return nil
}

func (c *Agent) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("server.base_url must be an http(s) URL, got %q", c.Server.BaseURL))
	}
	for name, d := range map[string]time.Duration{
		"agent.poll_interval":     c.Agent.PollInterval,
		"agent.sample_interval":   c.Agent.SampleInterval,
		"agent.transmit_interval": c.Agent.TransmitInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}
