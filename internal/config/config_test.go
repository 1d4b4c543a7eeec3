package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := DefaultConfig()
	if cfg.ImageMode != ImageModeFill || cfg.Renderer != RendererAuto {
		t.Errorf("unexpected modes: %s %s", cfg.ImageMode, cfg.Renderer)
	}
	if cfg.DisplayPoll != 5*time.Second {
		t.Errorf("expected 5s poll, got %s", cfg.DisplayPoll)
	}
	if cfg.SettingsPath != def.SettingsPath || cfg.CacheDir != def.CacheDir {
		t.Errorf("paths differ from defaults: %+v", cfg)
	}
	if cfg.Level() != zapcore.InfoLevel {
		t.Errorf("expected info level, got %s", cfg.Level())
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "image_mode: blur\ncache_dir: /srv/cache\ndisplay_poll: 2s\nlog_level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BACKDROP_RENDERER", "log")
	t.Setenv("BACKDROP_CACHE_DIR", "/var/tmp/backdrop")

	cfg, err := Load(viper.New(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ImageMode != ImageModeBlur {
		t.Errorf("expected blur from file, got %s", cfg.ImageMode)
	}
	if cfg.Renderer != RendererLog {
		t.Errorf("expected renderer from env, got %s", cfg.Renderer)
	}
	if cfg.CacheDir != "/var/tmp/backdrop" {
		t.Errorf("env should override file, got %s", cfg.CacheDir)
	}
	if cfg.DisplayPoll != 2*time.Second || cfg.Level() != zapcore.DebugLevel {
		t.Errorf("unexpected poll/level: %s %s", cfg.DisplayPoll, cfg.Level())
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BACKDROP_SETTINGS_PATH", "~/backdrop/settings.json")

	cfg, err := Load(viper.New(), t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expected := filepath.Join(home, "backdrop", "settings.json"); cfg.GetSettingsPath() != expected {
		t.Errorf("expected %s, got %s", expected, cfg.GetSettingsPath())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr bool
	}{
		{"Defaults", func(c *AppConfig) {}, false},
		{"Unknown Image Mode", func(c *AppConfig) { c.ImageMode = "stretch" }, true},
		{"Unknown Renderer", func(c *AppConfig) { c.Renderer = "gl" }, true},
		{"Zero Poll", func(c *AppConfig) { c.DisplayPoll = 0 }, true},
		{"Bad Level", func(c *AppConfig) { c.LogLevel = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("image_mode: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(viper.New(), dir); err == nil {
		t.Error("expected an error for a broken config file")
	}
}
