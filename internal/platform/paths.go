// Package platform places per-user config and data files.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories.
const DefaultAppName = "canetrack"

// Paths holds the per-user file locations for one app name.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
}

// Options selects the app name and dev-mode suffix.
type Options struct {
	AppName string
	DevMode bool
}

// Host is the part of the running system that path placement reads.
type Host struct {
	GOOS      string
	Home      string
	ConfigDir string
	Getenv    func(string) string
}

// baseRule is one OS's override variables and its default data base.
type baseRule struct {
	configEnv string
	dataEnv   string
	dataBase  func(home string) string
}

// baseRules is keyed by GOOS. Systems without a rule keep both bases in the user config dir.
var baseRules = map[string]baseRule{
	"linux": {
		configEnv: "XDG_CONFIG_HOME",
		dataEnv:   "XDG_DATA_HOME",
		dataBase: func(home string) string {
			return filepath.Join(home, ".local", "share")
		},
	},
	"windows": {
		configEnv: "APPDATA",
		dataEnv:   "LOCALAPPDATA",
	},
}

// CurrentHost describes the running process.
func CurrentHost() (Host, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Host{}, fmt.Errorf("user config dir: %w", err)
	}
	home, _ := os.UserHomeDir()
	return Host{GOOS: runtime.GOOS, Home: home, ConfigDir: configDir, Getenv: os.Getenv}, nil
}

// Resolve returns the current user's paths for opts.
func Resolve(opts Options) (Paths, error) {
	host, err := CurrentHost()
	if err != nil {
		return Paths{}, err
	}
	return host.Paths(opts)
}

// Paths places config and data under the host's bases.
// Dev mode appends "-dev" so development data never touches a real farm database.
func (h Host) Paths(opts Options) (Paths, error) {
	app := strings.TrimSpace(opts.AppName)
	if app == "" {
		app = DefaultAppName
	}
	if opts.DevMode {
		app += "-dev"
	}
	configBase, dataBase := h.bases()
	if configBase == "" || dataBase == "" {
		return Paths{}, fmt.Errorf("no base dir for %s", app)
	}
	dataDir := filepath.Join(dataBase, app)
	return Paths{
		ConfigPath: filepath.Join(configBase, app, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, app+".db"),
	}, nil
}

// bases picks config and data roots: env override, then the OS default, then ConfigDir.
func (h Host) bases() (string, string) {
	configBase, dataBase := h.ConfigDir, h.ConfigDir
	rule, ok := baseRules[h.GOOS]
	if !ok {
		return configBase, dataBase
	}
	if rule.dataBase != nil && h.Home != "" {
		dataBase = rule.dataBase(h.Home)
	}
	if v := h.env(rule.configEnv); v != "" {
		configBase = v
	}
	if v := h.env(rule.dataEnv); v != "" {
		dataBase = v
	}
	return configBase, dataBase
}

func (h Host) env(key string) string {
	if h.Getenv == nil || key == "" {
		return ""
	}
	return strings.TrimSpace(h.Getenv(key))
}
