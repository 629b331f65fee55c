// Package config loads server settings from defaults, an optional YAML file
// and environment variables.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const (
	BackendSQLite = "sqlite"
	BackendTables = "tables"
	BackendMemory = "memory"
)

// Config holds everything serve needs. Field names mirror the environment
// variables, e.g. TasksTable is read from TASKS_TABLE.
type Config struct {
	Debug bool `mapstructure:"debug"`
	Port  int  `mapstructure:"port"`

	StorageBackend          string `mapstructure:"storage_backend"`
	SQLitePath              string `mapstructure:"sqlite_path"`
	StorageConnectionString string `mapstructure:"storage_connection_string"`
	TasksTable              string `mapstructure:"tasks_table"`
	ChangesQueue            string `mapstructure:"changes_queue"`

	RedisConnectionString string        `mapstructure:"redis_connection_string"`
	TaskUpdatesChannel    string        `mapstructure:"task_updates_channel"`
	DeduperTTL            time.Duration `mapstructure:"deduper_ttl"`
	RelayPublishTimeout   time.Duration `mapstructure:"relay_publish_timeout"`

	PushBuffer int           `mapstructure:"push_buffer"`
	KeepAlive  time.Duration `mapstructure:"keep_alive"`

	ExportWorkers        int           `mapstructure:"export_workers"`
	ExportBuffer         int           `mapstructure:"export_buffer"`
	ExportEnqueueTimeout time.Duration `mapstructure:"export_enqueue_timeout"`
	ExportHandoffTimeout time.Duration `mapstructure:"export_handoff_timeout"`
}

var defaults = map[string]any{
	"debug":                     false,
	"port":                      8080,
	"storage_backend":           BackendSQLite,
	"sqlite_path":               "tasks.db",
	"storage_connection_string": "",
	"tasks_table":               "tasks",
	"changes_queue":             "",
	"redis_connection_string":   "",
	"task_updates_channel":      "task-updates",
	"deduper_ttl":               24 * time.Hour,
	"relay_publish_timeout":     2 * time.Second,
	"push_buffer":               64,
	"keep_alive":                25 * time.Second,
	"export_workers":            4,
	"export_buffer":             1024,
	"export_enqueue_timeout":    30 * time.Second,
	"export_handoff_timeout":    time.Duration(0),
}

// Load reads the optional YAML file at path and then applies environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	// The functions host hands the listen port over under its own name.
	if err := v.BindEnv("port", "FUNCTIONS_CUSTOMHANDLER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendTables:
		if c.StorageConnectionString == "" || c.TasksTable == "" {
			errs = append(errs, errors.New("missing storage config"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_BACKEND %q", c.StorageBackend))
	}
	if c.ChangesQueue != "" && c.StorageConnectionString == "" {
		errs = append(errs, errors.New("CHANGES_QUEUE needs STORAGE_CONNECTION_STRING"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT: %d", c.Port))
	}
	if c.DeduperTTL <= 0 {
		errs = append(errs, errors.New("invalid DEDUPER_TTL: must be greater than zero"))
	}
	if c.RelayPublishTimeout <= 0 {
		errs = append(errs, errors.New("invalid RELAY_PUBLISH_TIMEOUT: must be greater than zero"))
	}
	if c.PushBuffer <= 0 {
		errs = append(errs, errors.New("invalid PUSH_BUFFER: must be greater than zero"))
	}
	if c.KeepAlive <= 0 {
		errs = append(errs, errors.New("invalid KEEP_ALIVE: must be greater than zero"))
	}
	if c.RedisConnectionString != "" {
		if _, err := RedisOptions(c.RedisConnectionString); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RedisOptions accepts either a redis:// URL or the Azure Cache form
// "host:port,password=...,ssl=True".
func RedisOptions(conn string) (*redis.Options, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		opts.ContextTimeoutEnabled = true
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid REDIS_CONNECTION_STRING: no address in %q", conn)
	}
	opts := &redis.Options{Addr: addr, ContextTimeoutEnabled: true}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
