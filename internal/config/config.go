package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix          = "BACKDROP"
	defaultImageMode   = ImageModeFill
	defaultRenderer    = RendererAuto
	defaultDisplayPoll = 5 * time.Second
	defaultLogLevel    = "info"
)

// Image fitting modes
const (
	ImageModeFill = "fill"
	ImageModeBlur = "blur"
)

// Renderer backends
const (
	RendererAuto    = "auto"
	RendererCommand = "command"
	RendererLog     = "log"
)

// AppConfig holds daemon configuration
type AppConfig struct {
	SettingsPath string        `mapstructure:"settings_path"`
	CacheDir     string        `mapstructure:"cache_dir"`
	OutputDir    string        `mapstructure:"output_dir"`
	ImageMode    string        `mapstructure:"image_mode"`
	Renderer     string        `mapstructure:"renderer"`
	DisplayPoll  time.Duration `mapstructure:"display_poll"`
	LogLevel     string        `mapstructure:"log_level"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *AppConfig {
	return &AppConfig{
		SettingsPath: filepath.Join(userDir(os.UserConfigDir, ".config"), "backdrop", "settings.json"),
		CacheDir:     filepath.Join(userDir(os.UserCacheDir, ".cache"), "backdrop", "media"),
		OutputDir:    filepath.Join(userDir(os.UserCacheDir, ".cache"), "backdrop", "prepared"),
		ImageMode:    defaultImageMode,
		Renderer:     defaultRenderer,
		DisplayPoll:  defaultDisplayPoll,
		LogLevel:     defaultLogLevel,
	}
}

func userDir(lookup func() (string, error), fallback string) string {
	if dir, err := lookup(); err == nil {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, fallback)
}

// DefaultConfigDir is where config.yaml is looked up first
func DefaultConfigDir() string {
	return filepath.Join(userDir(os.UserConfigDir, ".config"), "backdrop")
}

// NewAppConfig loads the configuration from config.yaml (if present) and
// BACKDROP_* environment variables
func NewAppConfig() (*AppConfig, error) {
	return Load(viper.New(), DefaultConfigDir(), ".")
}

// Load reads configuration through v, searching config.yaml in dirs
func Load(v *viper.Viper, dirs ...string) (*AppConfig, error) {
	cfg := DefaultConfig()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	// Defaults make every key visible to AutomaticEnv during Unmarshal
	v.SetDefault("settings_path", cfg.SettingsPath)
	v.SetDefault("cache_dir", cfg.CacheDir)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("image_mode", cfg.ImageMode)
	v.SetDefault("renderer", cfg.Renderer)
	v.SetDefault("display_poll", cfg.DisplayPoll)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	cfg.SettingsPath = expandPath(cfg.SettingsPath)
	cfg.CacheDir = expandPath(cfg.CacheDir)
	cfg.OutputDir = expandPath(cfg.OutputDir)
	cfg.ImageMode = strings.ToLower(cfg.ImageMode)
	cfg.Renderer = strings.ToLower(cfg.Renderer)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot act on
func (c *AppConfig) Validate() error {
	switch c.ImageMode {
	case ImageModeFill, ImageModeBlur:
	default:
		return fmt.Errorf("invalid image_mode %q (want %s or %s)", c.ImageMode, ImageModeFill, ImageModeBlur)
	}
	switch c.Renderer {
	case RendererAuto, RendererCommand, RendererLog:
	default:
		return fmt.Errorf("invalid renderer %q", c.Renderer)
	}
	if c.DisplayPoll <= 0 {
		return fmt.Errorf("display_poll must be positive, got %s", c.DisplayPoll)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// expandPath resolves environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// Level returns the configured zap level
func (c *AppConfig) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Log reports the effective configuration
func (c *AppConfig) Log(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("settingsPath", c.SettingsPath),
		zap.String("cacheDir", c.CacheDir),
		zap.String("outputDir", c.OutputDir),
		zap.String("imageMode", c.ImageMode),
		zap.String("renderer", c.Renderer),
		zap.Duration("displayPoll", c.DisplayPoll),
		zap.String("logLevel", c.LogLevel))
}

// GetSettingsPath returns the location of the persisted settings record
func (c *AppConfig) GetSettingsPath() string {
	return c.SettingsPath
}

// GetCacheDir returns the media cache directory
func (c *AppConfig) GetCacheDir() string {
	return c.CacheDir
}

// GetOutputDir returns the directory for prepared wallpapers
func (c *AppConfig) GetOutputDir() string {
	return c.OutputDir
}

// GetImageMode returns how still images are fitted
func (c *AppConfig) GetImageMode() string {
	return c.ImageMode
}
