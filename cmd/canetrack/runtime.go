package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/canetrack/internal/adapters/storage/demo"
	"github.com/hylla/canetrack/internal/adapters/storage/sqlite"
	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/config"
	"github.com/hylla/canetrack/internal/platform"
)

// runtimeEnv is everything one command needs after startup.
type runtimeEnv struct {
	command    string
	configPath string
	paths      platform.Paths
	cfg        config.Config
	logger     *runtimeLogger
	store      app.Store
	workspace  *app.Workspace
	closers    []func() error
}

// resolvedPaths picks config and db paths: flag, then env, then platform default.
func (o *rootOptions) resolvedPaths() (platform.Paths, string, string, bool, error) {
	paths, err := platform.Resolve(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
	if err != nil {
		return platform.Paths{}, "", "", false, err
	}

	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("CANETRACK_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(o.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("CANETRACK_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}
	return paths, configPath, dbPath, dbOverridden, nil
}

// loadConfig resolves paths and applies flag and env overrides on top of the config file.
func (o *rootOptions) loadConfig() (platform.Paths, string, config.Config, error) {
	paths, configPath, dbPath, dbOverridden, err := o.resolvedPaths()
	if err != nil {
		return platform.Paths{}, "", config.Config{}, err
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return platform.Paths{}, "", config.Config{}, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	storeMode := strings.TrimSpace(o.storeMode)
	if storeMode == "" {
		storeMode = strings.TrimSpace(os.Getenv("CANETRACK_STORE"))
	}
	if storeMode != "" {
		cfg.Store.Mode = config.StoreMode(strings.ToLower(storeMode))
		if err := cfg.Validate(); err != nil {
			return platform.Paths{}, "", config.Config{}, fmt.Errorf("store override: %w", err)
		}
	}
	return paths, configPath, cfg, nil
}

// openRuntime loads config, starts logging, opens the store and loads the
// workspace. quietConsole keeps runtime logs off the terminal.
func openRuntime(ctx context.Context, o *rootOptions, command string, quietConsole bool) (*runtimeEnv, error) {
	paths, configPath, cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newRuntimeLogger(o.stderr, o.appName, o.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if quietConsole {
		logger.SetConsoleEnabled(false)
	}
	rt := &runtimeEnv{
		command:    command,
		configPath: configPath,
		paths:      paths,
		cfg:        cfg,
		logger:     logger,
	}

	logger.Info("startup configuration resolved", "app", o.appName, "dev_mode", o.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	logger.Info("configuration loaded", "config_path", configPath, "store", cfg.Store.Mode, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	if err := rt.openStore(); err != nil {
		rt.Close()
		return nil, err
	}

	rt.workspace = app.NewWorkspace(rt.store, newEntityID, time.Now, logger, app.WorkspaceConfig{
		DeleteBlocPhrase: cfg.Confirm.DeleteBloc,
		RetireBlocPhrase: cfg.Confirm.RetireBloc,
	})
	if err := rt.workspace.Load(ctx); err != nil {
		logger.Error("workspace load failed", "err", err)
		rt.Close()
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	logger.Info("workspace loaded", "blocs", len(rt.workspace.Blocs()))
	return rt, nil
}

// storeTarget names the backend the config selects and the file it opens.
// The demo file defaults to demo.json beside the database.
func storeTarget(cfg config.Config) (config.StoreMode, string) {
	if cfg.Store.Mode != config.StoreModeDemo {
		return config.StoreModeSQLite, cfg.Database.Path
	}
	if path := strings.TrimSpace(cfg.Store.DemoPath); path != "" {
		return config.StoreModeDemo, path
	}
	return config.StoreModeDemo, filepath.Join(filepath.Dir(cfg.Database.Path), "demo.json")
}

// openStore opens the configured storage backend.
func (rt *runtimeEnv) openStore() error {
	mode, path := storeTarget(rt.cfg)
	switch mode {
	case config.StoreModeDemo:
		rt.logger.Info("opening demo store", "path", path)
		store, err := demo.OpenFile(path)
		if err != nil {
			rt.logger.Error("demo store open failed", "path", path, "err", err)
			return fmt.Errorf("open demo store: %w", err)
		}
		rt.store = store
		return nil
	default:
		rt.logger.Info("opening sqlite repository", "db_path", path)
		repo, err := sqlite.Open(path)
		if err != nil {
			rt.logger.Error("sqlite open failed", "db_path", path, "err", err)
			return fmt.Errorf("open sqlite repository: %w", err)
		}
		rt.store = repo
		rt.closers = append(rt.closers, func() error {
			if err := repo.Close(); err != nil {
				return fmt.Errorf("close sqlite: %w", err)
			}
			return nil
		})
		rt.logger.Info("sqlite repository ready", "db_path", path, "migrations", "ensured")
		return nil
	}
}

// Close releases the store and then the log file.
func (rt *runtimeEnv) Close() {
	if rt == nil {
		return
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn("runtime close failed", "err", err)
	}
	if err := rt.logger.Close(); err != nil && rt.logger.shouldLogToSink(rt.logger.consoleSink) {
		rt.logger.Warn("close runtime log sink failed", "err", err)
	}
}

// commandFlow wraps one command body in start, complete and failed log lines.
func (rt *runtimeEnv) commandFlow(fn func() error) error {
	rt.logger.Info("command flow start", "command", rt.command)
	if err := fn(); err != nil {
		rt.logger.Error("command flow failed", "command", rt.command, "err", err)
		return fmt.Errorf("run %s command: %w", rt.command, err)
	}
	rt.logger.Info("command flow complete", "command", rt.command)
	return nil
}

// newEntityID returns a time-ordered UUID, falling back to a random one.
func newEntityID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
