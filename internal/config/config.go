package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type StoreMode string

const (
	StoreModeSQLite StoreMode = "sqlite"
	StoreModeDemo   StoreMode = "demo"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Store    StoreConfig    `toml:"store"`
	Logging  LoggingConfig  `toml:"logging"`
	Confirm  ConfirmConfig  `toml:"confirm"`
	Server   ServerConfig   `toml:"server"`
	Display  DisplayConfig  `toml:"display"`
	Demo     DemoConfig     `toml:"demo"`
	Keys     KeysConfig     `toml:"keys"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type StoreConfig struct {
	Mode     StoreMode `toml:"mode"`
	DemoPath string    `toml:"demo_path"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// ConfirmConfig holds the phrases that gate destructive bloc actions.
type ConfirmConfig struct {
	DeleteBloc string `toml:"delete_bloc"`
	RetireBloc string `toml:"retire_bloc"`
}

type ServerConfig struct {
	HTTPBind       string   `toml:"http_bind"`
	APIEndpoint    string   `toml:"api_endpoint"`
	MCPEndpoint    string   `toml:"mcp_endpoint"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type DisplayConfig struct {
	ShowCosts bool   `toml:"show_costs"`
	ShowNotes bool   `toml:"show_notes"`
	Currency  string `toml:"currency"`
}

// KeysConfig overrides TUI key bindings. Blank values keep the defaults.
type KeysConfig struct {
	Advance  string `toml:"advance"`
	AddChild string `toml:"add_child"`
	AddBloc  string `toml:"add_bloc"`
	Edit     string `toml:"edit"`
	Delete   string `toml:"delete"`
	CopyID   string `toml:"copy_id"`
}

type DemoConfig struct {
	Seed  uint64 `toml:"seed"`
	Blocs int    `toml:"blocs"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Store: StoreConfig{
			Mode:     StoreModeSQLite,
			DemoPath: defaultDemoPath(dbPath),
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".canetrack/log",
			},
		},
		Confirm: ConfirmConfig{
			DeleteBloc: "delete bloc",
			RetireBloc: "retire bloc",
		},
		Server: ServerConfig{
			HTTPBind:       "127.0.0.1:8080",
			APIEndpoint:    "/api/v1",
			MCPEndpoint:    "/mcp",
			AllowedOrigins: []string{},
		},
		Display: DisplayConfig{
			ShowCosts: true,
			ShowNotes: true,
			Currency:  "MUR",
		},
		Demo: DemoConfig{
			Seed:  42,
			Blocs: 6,
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// normalize trims and lowercases enum-like fields after decode.
func (c *Config) normalize() {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	c.Store.Mode = StoreMode(strings.TrimSpace(strings.ToLower(string(c.Store.Mode))))
	c.Store.DemoPath = strings.TrimSpace(c.Store.DemoPath)
	c.Logging.Level = strings.TrimSpace(strings.ToLower(c.Logging.Level))
	c.Display.Currency = strings.TrimSpace(strings.ToUpper(c.Display.Currency))
	for _, k := range []*string{&c.Keys.Advance, &c.Keys.AddChild, &c.Keys.AddBloc, &c.Keys.Edit, &c.Keys.Delete, &c.Keys.CopyID} {
		*k = strings.TrimSpace(*k)
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	switch c.Store.Mode {
	case StoreModeSQLite:
	case StoreModeDemo:
		if strings.TrimSpace(c.Store.DemoPath) == "" {
			return errors.New("store.demo_path is required when store.mode is demo")
		}
	default:
		return fmt.Errorf("invalid store.mode: %q", c.Store.Mode)
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	if c.Logging.DevFile.Enabled && strings.TrimSpace(c.Logging.DevFile.Dir) == "" {
		return errors.New("logging.dev_file.dir is required when dev_file is enabled")
	}

	if c.Confirm.DeleteBloc == "" || strings.TrimSpace(c.Confirm.DeleteBloc) != c.Confirm.DeleteBloc {
		return fmt.Errorf("invalid confirm.delete_bloc: %q", c.Confirm.DeleteBloc)
	}
	if c.Confirm.RetireBloc == "" || strings.TrimSpace(c.Confirm.RetireBloc) != c.Confirm.RetireBloc {
		return fmt.Errorf("invalid confirm.retire_bloc: %q", c.Confirm.RetireBloc)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for _, field := range []struct{ name, value string }{
		{"server.api_endpoint", c.Server.APIEndpoint},
		{"server.mcp_endpoint", c.Server.MCPEndpoint},
	} {
		if !strings.HasPrefix(strings.TrimSpace(field.value), "/") {
			return fmt.Errorf("%s must start with /: %q", field.name, field.value)
		}
	}
	for i, origin := range c.Server.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("server.allowed_origins[%d] is empty", i)
		}
	}

	if len(c.Display.Currency) != 3 {
		return fmt.Errorf("display.currency must be a 3-letter code: %q", c.Display.Currency)
	}

	seen := map[string]string{}
	for _, binding := range []struct{ name, value string }{
		{"keys.advance", c.Keys.Advance},
		{"keys.add_child", c.Keys.AddChild},
		{"keys.add_bloc", c.Keys.AddBloc},
		{"keys.edit", c.Keys.Edit},
		{"keys.delete", c.Keys.Delete},
		{"keys.copy_id", c.Keys.CopyID},
	} {
		if binding.value == "" {
			continue
		}
		if other, ok := seen[binding.value]; ok {
			return fmt.Errorf("%s duplicates %s: %q", binding.name, other, binding.value)
		}
		seen[binding.value] = binding.name
	}

	if c.Demo.Blocs < 1 || c.Demo.Blocs > 500 {
		return fmt.Errorf("demo.blocs must be between 1 and 500: %d", c.Demo.Blocs)
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// defaultDemoPath places the demo store next to the database file.
func defaultDemoPath(dbPath string) string {
	if strings.TrimSpace(dbPath) == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(dbPath), "demo.json")
}
