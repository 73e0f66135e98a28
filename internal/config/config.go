// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"github.com/jeranaias/taskpad/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete taskpad configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Assistant AssistantConfig `toml:"assistant"`
	UI        UIConfig        `toml:"ui"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig describes the service.
type ServerConfig struct {
	// BaseURL is the service root, e.g. "http://127.0.0.1:8000".
	BaseURL string `toml:"base_url"`
	// RequestTimeoutSecs bounds non-streaming calls.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
	// RequestsPerSecond limits outgoing requests. 0 disables the limit.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// StorageConfig selects where the session token and preferences live.
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "redis", "memory".
	Backend string `toml:"backend"`
	// Path is used by the file and sqlite backends.
	Path           string `toml:"path"`
	RedisAddr      string `toml:"redis_addr"`
	RedisKeyPrefix string `toml:"redis_key_prefix"`
	// Encrypt seals stored values with a key derived from Passphrase.
	Encrypt bool `toml:"encrypt"`
	// Passphrase is only ever read from the environment.
	Passphrase string `toml:"-"`
}

// AssistantConfig tunes the assistant calls.
type AssistantConfig struct {
	SystemPrompt   string `toml:"system_prompt"`
	MaxRecordBytes int    `toml:"max_record_bytes"`
}

// UIConfig holds presentation defaults.
type UIConfig struct {
	// Theme is the default until one is stored: "dark" or "light".
	Theme string `toml:"theme"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a zerolog level name.
	Level string `toml:"level"`
	// Format is "console", "json" or "auto" (console on a terminal).
	Format string `toml:"format"`
	// File, when set, receives JSON logs instead of stderr.
	File string `toml:"file"`
}

// envOverrides are read with envdecode. Unset variables leave fields empty.
type envOverrides struct {
	BaseURL    string `env:"TASKPAD_BASE_URL"`
	Store      string `env:"TASKPAD_STORE"`
	StorePath  string `env:"TASKPAD_STORE_PATH"`
	RedisAddr  string `env:"TASKPAD_REDIS_ADDR"`
	LogLevel   string `env:"TASKPAD_LOG_LEVEL"`
	Theme      string `env:"TASKPAD_THEME"`
	Passphrase string `env:"TASKPAD_STORE_PASSPHRASE"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	storePath := "session.json"
	if dir, err := ConfigDir(); err == nil {
		storePath = filepath.Join(dir, "session.json")
	}
	return &Config{
		Server: ServerConfig{
			BaseURL:            "http://127.0.0.1:8000",
			RequestTimeoutSecs: 30,
			RequestsPerSecond:  0,
			Burst:              1,
		},
		Storage: StorageConfig{
			Backend:        "file",
			Path:           storePath,
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "taskpad:",
		},
		Assistant: AssistantConfig{
			SystemPrompt:   "You are a helpful assistant.",
			MaxRecordBytes: 1 << 20,
		},
		UI: UIConfig{
			Theme: "dark",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "auto",
		},
	}
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = defaults.Server.BaseURL
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = defaults.Server.RequestTimeoutSecs
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = defaults.Server.Burst
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}
	if cfg.Storage.RedisAddr == "" {
		cfg.Storage.RedisAddr = defaults.Storage.RedisAddr
	}
	if cfg.Storage.RedisKeyPrefix == "" {
		cfg.Storage.RedisKeyPrefix = defaults.Storage.RedisKeyPrefix
	}

	if cfg.Assistant.SystemPrompt == "" {
		cfg.Assistant.SystemPrompt = defaults.Assistant.SystemPrompt
	}
	if cfg.Assistant.MaxRecordBytes == 0 {
		cfg.Assistant.MaxRecordBytes = defaults.Assistant.MaxRecordBytes
	}

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// RequestTimeout returns the non-streaming request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the taskpad configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".taskpad"), nil
}

// DefaultPath returns the path to the TOML config file.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the TOML file at path, or DefaultPath when path is empty. A
// missing file yields the defaults. Environment overrides are applied last,
// then the result is validated.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the TOML file at path with defaults filled in, without
// environment overrides or validation. It is what Save should be given back.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}
	fillDefaults(cfg)
	return cfg, nil
}

// Save writes cfg as TOML to path, or DefaultPath when path is empty, with
// 0600 permissions. The passphrase is never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	buf.WriteString("# taskpad configuration file\n")
	buf.WriteString("# Generated by taskpad - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies TASKPAD_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if env.BaseURL != "" {
		c.Server.BaseURL = env.BaseURL
	}
	if env.Store != "" {
		c.Storage.Backend = env.Store
	}
	if env.StorePath != "" {
		c.Storage.Path = env.StorePath
	}
	if env.RedisAddr != "" {
		c.Storage.RedisAddr = env.RedisAddr
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.Theme != "" {
		c.UI.Theme = env.Theme
	}
	if env.Passphrase != "" {
		c.Storage.Passphrase = env.Passphrase
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validBackends  = []string{"file", "sqlite", "redis", "memory"}
	validThemes    = []string{"dark", "light"}
	validLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}
	validLogFormat = []string{"auto", "console", "json"}
)

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Validate returns ValidateErrors listing every invalid field, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Host == "" {
		add("server.base_url", "must be an absolute URL, got %q", c.Server.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("server.base_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if c.Server.RequestTimeoutSecs < 0 {
		add("server.request_timeout_secs", "must not be negative")
	}
	if c.Server.RequestsPerSecond < 0 {
		add("server.requests_per_second", "must not be negative")
	}
	if c.Server.Burst < 0 {
		add("server.burst", "must not be negative")
	}

	if !oneOf(c.Storage.Backend, validBackends) {
		add("storage.backend", "must be one of %s, got %q", strings.Join(validBackends, ", "), c.Storage.Backend)
	}
	backend := strings.ToLower(c.Storage.Backend)
	if (backend == "file" || backend == "sqlite") && c.Storage.Path == "" {
		add("storage.path", "required for the %s backend", backend)
	}
	if backend == "redis" && c.Storage.RedisAddr == "" {
		add("storage.redis_addr", "required for the redis backend")
	}
	if c.Storage.Encrypt && c.Storage.Passphrase == "" {
		add("storage.encrypt", "requires TASKPAD_STORE_PASSPHRASE")
	}

	if c.Assistant.MaxRecordBytes < 0 {
		add("assistant.max_record_bytes", "must not be negative")
	}
	if !oneOf(c.UI.Theme, validThemes) {
		add("ui.theme", "must be dark or light, got %q", c.UI.Theme)
	}
	if !oneOf(c.Log.Level, validLogLevels) {
		add("log.level", "unknown level %q", c.Log.Level)
	}
	if !oneOf(c.Log.Format, validLogFormat) {
		add("log.format", "must be one of %s, got %q", strings.Join(validLogFormat, ", "), c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// field resolves a dot-notation key such as "server.base_url" by TOML tag.
func (c *Config) field(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		f, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if f.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return f, nil
		}
		if f.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = f
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if tag != "" && tag != "-" && strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Get retrieves a configuration value using dot notation.
func (c *Config) Get(key string) (any, error) {
	f, err := c.field(key)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

// Set parses value into the field named by key. The result is not
// validated; call Validate before saving.
func (c *Config) Set(key, value string) error {
	f, err := c.field(key)
	if err != nil {
		return err
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value: %v", err)
		}
		f.SetInt(int64(n))
	case reflect.Float64:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %v", err)
		}
		f.SetFloat(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %v", err)
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("cannot set field %s of kind %s", key, f.Kind())
	}
	return nil
}

// Keys returns every settable key in dot notation, sorted.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			tag := section.Type.Field(j).Tag.Get("toml")
			if tag == "" || tag == "-" {
				continue
			}
			keys = append(keys, prefix+"."+tag)
		}
	}
	sort.Strings(keys)
	return keys
}
