package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment override, e.g.
// FINSYNC_SCHEDULER_MAX_CONCURRENT.
const EnvPrefix = "FINSYNC"

// DefaultPaths are searched when no explicit config file is given.
var DefaultPaths = []string{
	"./finsync.yaml",
	"./configs/finsync.yaml",
	"/etc/finsync/finsync.yaml",
}

// Loader owns the viper instance and the last valid Settings.
type Loader struct {
	viper    *viper.Viper
	validate *validator.Validate
	logger   *zap.Logger

	mu        sync.RWMutex
	current   *Settings
	files     []string
	listeners []func(*Settings)
}

// NewLoader creates a loader with defaults and environment binding configured.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		viper:    viper.New(),
		validate: validator.New(),
		logger:   logger.Named("config"),
	}
	l.setupViper()
	return l
}

func (l *Loader) setupViper() {
	l.viper.SetConfigType("yaml")
	l.viper.SetEnvPrefix(EnvPrefix)
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()
	for key, value := range defaults {
		l.viper.SetDefault(key, value)
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped; existing variables are not overwritten.
func LoadDotEnv(logger *zap.Logger, files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logger.Warn("Failed to load env file", zap.String("file", f), zap.Error(err))
		}
	}
}

// Load merges the given YAML files (or DefaultPaths), applies environment
// overrides, and validates the result.
func (l *Loader) Load(paths ...string) (*Settings, error) {
	explicit := len(paths) > 0
	if !explicit {
		paths = DefaultPaths
	}

	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if explicit {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			l.logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}
		l.viper.SetConfigFile(path)
		if err := l.viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}

	if len(loaded) == 0 {
		l.logger.Warn("No configuration files found, using defaults and environment variables")
	} else {
		l.logger.Info("Loaded configuration files", zap.Strings("files", loaded))
	}

	settings, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = settings
	l.files = loaded
	l.mu.Unlock()
	return settings, nil
}

func (l *Loader) decode() (*Settings, error) {
	var s Settings
	if err := l.viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &s, nil
}

// Current returns the last successfully loaded settings.
func (l *Loader) Current() *Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers fn to receive every valid reloaded configuration.
func (l *Loader) OnChange(fn func(*Settings)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Watch starts watching the last loaded file. Invalid edits are logged and
// ignored so the daemon keeps running on the previous settings.
func (l *Loader) Watch() {
	l.mu.RLock()
	watching := len(l.files) > 0
	l.mu.RUnlock()
	if !watching {
		return
	}

	l.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.reload(e.Name)
	})
	l.viper.WatchConfig()
}

func (l *Loader) reload(name string) {
	settings, err := l.decode()
	if err != nil {
		l.logger.Warn("Ignoring invalid configuration change", zap.String("file", name), zap.Error(err))
		return
	}

	l.mu.Lock()
	l.current = settings
	listeners := append([]func(*Settings){}, l.listeners...)
	l.mu.Unlock()

	l.logger.Info("Configuration reloaded", zap.String("file", name))
	for _, fn := range listeners {
		fn(settings)
	}
}
