package renderer

import (
	"context"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

// LogRenderer only logs what would be drawn. It is used when no wallpaper
// tool is available and for dry runs.
type LogRenderer struct {
	logger *zap.Logger
}

// NewLogRenderer creates a renderer that logs surface operations
func NewLogRenderer(logger *zap.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

// CreateSurface returns a surface logging under the display id
func (r *LogRenderer) CreateSurface(display domain.Display) (domain.Surface, error) {
	l := r.logger.With(zap.String("display", display.ID))
	l.Info("Surface created",
		zap.Int("x", display.Bounds.X),
		zap.Int("y", display.Bounds.Y),
		zap.Int("width", display.Bounds.Width),
		zap.Int("height", display.Bounds.Height))
	return &logSurface{logger: l}, nil
}

// Restore is a no-op
func (r *LogRenderer) Restore(context.Context) error {
	return nil
}

type logSurface struct {
	logger *zap.Logger
}

func (s *logSurface) SetGeometry(bounds domain.Rect) error {
	s.logger.Info("Geometry changed", zap.Int("width", bounds.Width), zap.Int("height", bounds.Height))
	return nil
}

func (s *logSurface) Show(item domain.ResolvedItem) error {
	s.logger.Info("Show",
		zap.String("item", item.Item.ID),
		zap.String("kind", string(item.Item.Kind)),
		zap.String("path", item.Path))
	return nil
}

func (s *logSurface) Clear() error {
	s.logger.Info("Clear")
	return nil
}

func (s *logSurface) Hide() error {
	s.logger.Info("Hide")
	return nil
}

func (s *logSurface) Release() error {
	s.logger.Info("Release")
	return nil
}
