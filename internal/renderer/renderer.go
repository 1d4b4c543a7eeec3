// Package renderer puts resolved media on the desktop. Still images are
// prepared at surface size and handed to an external wallpaper setter
// (swww, hyprpaper, swaybg, gsettings, feh, nitrogen); videos are looped
// muted with mpvpaper.
package renderer

import (
	"context"
	"fmt"
	"os"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

// Modes accepted by New
const (
	ModeAuto    = "auto"
	ModeCommand = "command"
	ModeLog     = "log"
)

// Backend is a Renderer that can put the desktop back the way it found it
type Backend interface {
	domain.Renderer
	Restore(ctx context.Context) error
}

// New selects a backend. "auto" falls back to logging when no setter is
// installed; "command" fails instead.
func New(ctx context.Context, logger *zap.Logger, mode string, runner Runner, preparer domain.ImagePreparer, outputDir string) (Backend, error) {
	return newBackend(ctx, logger, mode, runner, preparer, outputDir, os.Getenv)
}

func newBackend(ctx context.Context, logger *zap.Logger, mode string, runner Runner, preparer domain.ImagePreparer, outputDir string, getenv func(string) string) (Backend, error) {
	switch mode {
	case ModeLog:
		logger.Info("Using log renderer")
		return NewLogRenderer(logger), nil
	case ModeAuto, ModeCommand, "":
	default:
		return nil, fmt.Errorf("unknown renderer %q", mode)
	}

	setter, ok := detectSetter(logger, getenv, runner.LookPath)
	if !ok {
		if mode == ModeCommand {
			return nil, fmt.Errorf("no supported wallpaper command found on this system")
		}
		logger.Warn("No wallpaper command found, falling back to the log renderer")
		return NewLogRenderer(logger), nil
	}

	logger.Info("Wallpaper setter detected",
		zap.String("name", setter.Name),
		zap.String("binary", setter.Binary),
		zap.Bool("per_output", setter.PerOutput()))
	if !runner.LookPath(videoPlayer.Binary) {
		logger.Warn("mpvpaper not found, video items cannot be shown")
	}

	r := NewCommandRenderer(logger, runner, preparer, setter, outputDir)
	if err := r.Capture(ctx); err != nil {
		logger.Warn("Could not capture current wallpaper, restore on exit will be disabled", zap.Error(err))
	}
	return r, nil
}
