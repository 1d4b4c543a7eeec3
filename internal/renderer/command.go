package renderer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

const queryTimeout = 5 * time.Second

var errReleased = errors.New("surface released")

// CommandRenderer draws surfaces by driving an external wallpaper setter
// for images and mpvpaper for videos
type CommandRenderer struct {
	logger    *zap.Logger
	runner    Runner
	preparer  domain.ImagePreparer
	setter    Setter
	outputDir string

	mu       sync.Mutex
	original string
}

// NewCommandRenderer creates a renderer using setter. outputDir is where
// preparer writes its files; they are removed when a surface is released.
func NewCommandRenderer(logger *zap.Logger, runner Runner, preparer domain.ImagePreparer, setter Setter, outputDir string) *CommandRenderer {
	return &CommandRenderer{
		logger:    logger,
		runner:    runner,
		preparer:  preparer,
		setter:    setter,
		outputDir: outputDir,
	}
}

// Setter returns the wallpaper tool in use
func (r *CommandRenderer) Setter() Setter {
	return r.setter
}

// Capture remembers the wallpaper currently set so Restore can put it back.
// Only setters with a Query form support it.
func (r *CommandRenderer) Capture(ctx context.Context) error {
	if len(r.setter.Query) == 0 {
		return fmt.Errorf("%s cannot report the current wallpaper", r.setter.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	out, err := r.runner.Run(ctx, r.setter.Binary, r.setter.Query...)
	if err != nil {
		return err
	}

	// gsettings prints 'file:///path'
	current := strings.Trim(strings.TrimSpace(string(out)), "'")
	current = strings.TrimPrefix(current, "file://")
	if current == "" {
		return fmt.Errorf("%s reported no wallpaper", r.setter.Name)
	}

	r.mu.Lock()
	r.original = current
	r.mu.Unlock()

	r.logger.Info("Captured original wallpaper for restoration", zap.String("path", current))
	return nil
}

// Restore sets the wallpaper captured at startup, if any
func (r *CommandRenderer) Restore(ctx context.Context) error {
	r.mu.Lock()
	original := r.original
	r.mu.Unlock()

	if original == "" {
		r.logger.Info("No original wallpaper to restore")
		return nil
	}

	r.logger.Info("Restoring original wallpaper", zap.String("path", original))
	if err := r.apply(ctx, "", original); err != nil {
		return fmt.Errorf("failed to restore original wallpaper: %w", err)
	}
	return nil
}

// CreateSurface starts a worker bound to display
func (r *CommandRenderer) CreateSurface(display domain.Display) (domain.Surface, error) {
	if display.Bounds.Empty() {
		return nil, fmt.Errorf("display %s has no area", display.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &commandSurface{
		r:       r,
		logger:  r.logger.With(zap.String("display", display.ID)),
		name:    fileName(display.ID),
		ctx:     ctx,
		cancel:  cancel,
		display: display,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if display.Stable {
		s.output = display.ID
	}
	go s.run()

	s.logger.Debug("Surface created",
		zap.String("setter", r.setter.Name),
		zap.Int("width", display.Bounds.Width),
		zap.Int("height", display.Bounds.Height))
	return s, nil
}

// apply runs the setter for path on output
func (r *CommandRenderer) apply(ctx context.Context, output, path string) error {
	_, err := r.applyPersistent(ctx, output, path)
	return err
}

// applyPersistent also returns the child of a persistent setter
func (r *CommandRenderer) applyPersistent(ctx context.Context, output, path string) (Process, error) {
	steps := r.setter.Invocations(output, path)
	if r.setter.Persistent {
		var child Process
		for _, args := range steps {
			p, err := r.runner.Start(r.setter.Binary, args...)
			if err != nil {
				return child, err
			}
			child = p
		}
		return child, nil
	}

	for _, args := range steps {
		if _, err := r.runner.Run(ctx, r.setter.Binary, args...); err != nil {
			return nil, fmt.Errorf("failed to set wallpaper with %s: %w", r.setter.Name, err)
		}
	}
	return nil, nil
}

// fileName maps a display id to a safe file name
func fileName(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "display"
	}
	return b.String()
}

type op int

const (
	opShow op = iota
	opClear
	opHide
	opGeometry
)

type request struct {
	op   op
	item domain.ResolvedItem
}

// commandSurface applies requests on its own goroutine. Only the latest
// pending request is kept: a newer Show replaces an older one that has not
// started yet, so a slow preparation never queues up stale wallpapers.
type commandSurface struct {
	r      *CommandRenderer
	logger *zap.Logger
	name   string
	output string
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	display  domain.Display
	pending  *request
	released bool

	// Owned by run
	shown *domain.ResolvedItem
	child Process
}

func (s *commandSurface) submit(req request) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return errReleased
	}
	// A geometry change is picked up by any pending request
	if req.op == opGeometry && s.pending != nil {
		s.mu.Unlock()
		return nil
	}
	s.pending = &req
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *commandSurface) next() (request, domain.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return request{}, domain.Rect{}, false
	}
	req := *s.pending
	s.pending = nil
	return req, s.display.Bounds, true
}

func (s *commandSurface) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			req, bounds, ok := s.next()
			if !ok {
				break
			}
			if err := s.handle(req, bounds); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error("Failed to update surface", zap.Error(err))
			}
		}
	}
}

func (s *commandSurface) handle(req request, bounds domain.Rect) error {
	switch req.op {
	case opShow:
		return s.show(req.item, bounds)
	case opClear:
		s.shown = nil
		s.stopChild()
		path, err := s.r.preparer.Blank(s.ctx, bounds.Width, bounds.Height, s.name)
		if err != nil {
			return err
		}
		return s.setImage(path)
	case opHide:
		s.shown = nil
		s.stopChild()
		return nil
	case opGeometry:
		if s.shown == nil || s.shown.Item.Kind == domain.KindVideo {
			return nil
		}
		return s.show(*s.shown, bounds)
	}
	return nil
}

func (s *commandSurface) show(item domain.ResolvedItem, bounds domain.Rect) error {
	if item.Item.Kind == domain.KindVideo {
		s.stopChild()
		child, err := s.r.runner.Start(videoPlayer.Binary, videoArgs(s.output, item.Path)...)
		if err != nil {
			return err
		}
		s.child = child
		s.shown = &item
		s.logger.Info("Playing video", zap.String("path", item.Path))
		return nil
	}

	path, err := s.r.preparer.Prepare(s.ctx, item.Path, bounds.Width, bounds.Height, s.name)
	if err != nil {
		return err
	}
	if err := s.setImage(path); err != nil {
		return err
	}
	s.shown = &item
	s.logger.Info("Wallpaper updated", zap.String("item", item.Item.ID), zap.String("path", path))
	return nil
}

// setImage replaces whatever the surface shows with the image at path.
// A persistent setter's new child is started before the old one is killed.
func (s *commandSurface) setImage(path string) error {
	child, err := s.r.applyPersistent(s.ctx, s.output, path)
	if err != nil {
		return err
	}
	s.stopChild()
	s.child = child
	return nil
}

func (s *commandSurface) stopChild() {
	if s.child == nil {
		return
	}
	if err := s.child.Stop(); err != nil {
		s.logger.Warn("Failed to stop child", zap.Error(err))
	}
	s.child = nil
}

func (s *commandSurface) SetGeometry(bounds domain.Rect) error {
	if bounds.Empty() {
		return fmt.Errorf("invalid geometry %dx%d", bounds.Width, bounds.Height)
	}
	s.mu.Lock()
	s.display.Bounds = bounds
	s.mu.Unlock()
	return s.submit(request{op: opGeometry})
}

func (s *commandSurface) Show(item domain.ResolvedItem) error {
	if item.Item.Kind == domain.KindVideo && !s.r.runner.LookPath(videoPlayer.Binary) {
		return fmt.Errorf("cannot play %s: %s not found", item.Path, videoPlayer.Binary)
	}
	return s.submit(request{op: opShow, item: item})
}

func (s *commandSurface) Clear() error {
	return s.submit(request{op: opClear})
}

func (s *commandSurface) Hide() error {
	return s.submit(request{op: opHide})
}

// Release stops the worker and any child, and removes the prepared image
func (s *commandSurface) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.stopChild()

	prepared := filepath.Join(s.r.outputDir, s.name+".jpg")
	if err := os.Remove(prepared); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", prepared, err)
	}
	s.logger.Debug("Surface released")
	return nil
}
