// Package surface keeps one rendering surface per physical display.
// Manager is not safe for concurrent use; it lives on the control thread.
package surface

import (
	"sort"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

type tracked struct {
	display domain.Display
	surface domain.Surface
}

// Manager maps displays to surfaces and fans resolved items out to them
type Manager struct {
	logger   *zap.Logger
	renderer domain.Renderer

	surfaces map[string]*tracked
	current  *domain.ResolvedItem
}

// NewManager creates a manager with no surfaces
func NewManager(logger *zap.Logger, renderer domain.Renderer) *Manager {
	return &Manager{
		logger:   logger,
		renderer: renderer,
		surfaces: make(map[string]*tracked),
	}
}

// Reconcile makes the surface set match displays. Known displays keep their
// surface and only get a geometry update when their bounds changed; new
// displays get a surface showing the current item; vanished displays have
// their surface hidden and released. Calling it again with the same set does
// nothing.
func (m *Manager) Reconcile(displays []domain.Display) {
	next := make(map[string]domain.Display, len(displays))
	for _, d := range displays {
		if _, dup := next[d.ID]; dup {
			m.logger.Warn("Duplicate display id, keeping the first", zap.String("display", d.ID))
			continue
		}
		next[d.ID] = d
	}

	for _, id := range m.ids() {
		if _, ok := next[id]; !ok {
			m.teardown(id)
		}
	}

	for _, id := range sortedKeys(next) {
		d := next[id]
		if t, ok := m.surfaces[id]; ok {
			if t.display.Bounds != d.Bounds {
				if err := t.surface.SetGeometry(d.Bounds); err != nil {
					m.logger.Warn("Failed to update surface geometry", zap.String("display", id), zap.Error(err))
					continue
				}
				m.logger.Debug("Surface geometry updated", zap.String("display", id), zap.Any("bounds", d.Bounds))
			}
			t.display = d
			continue
		}
		m.create(d)
	}
}

func (m *Manager) create(d domain.Display) {
	s, err := m.renderer.CreateSurface(d)
	if err != nil {
		// Not tracked, so the next reconcile tries again
		m.logger.Error("Failed to create surface", zap.String("display", d.ID), zap.Error(err))
		return
	}
	m.surfaces[d.ID] = &tracked{display: d, surface: s}
	m.logger.Info("Surface created",
		zap.String("display", d.ID),
		zap.Bool("stableID", d.Stable),
		zap.Any("bounds", d.Bounds))

	if m.current != nil {
		if err := s.Show(*m.current); err != nil {
			m.logger.Warn("Failed to show media on new surface", zap.String("display", d.ID), zap.Error(err))
		}
	}
}

func (m *Manager) teardown(id string) {
	t := m.surfaces[id]
	delete(m.surfaces, id)

	if err := t.surface.Hide(); err != nil {
		m.logger.Warn("Failed to hide surface", zap.String("display", id), zap.Error(err))
	}
	if err := t.surface.Release(); err != nil {
		m.logger.Warn("Failed to release surface", zap.String("display", id), zap.Error(err))
	}
	m.logger.Info("Surface removed", zap.String("display", id))
}

// Broadcast delivers item to every surface; nil clears them all
func (m *Manager) Broadcast(item *domain.ResolvedItem) {
	if item != nil {
		copied := *item
		m.current = &copied
	} else {
		m.current = nil
	}

	for _, id := range m.ids() {
		s := m.surfaces[id].surface
		var err error
		if item == nil {
			err = s.Clear()
		} else {
			err = s.Show(*item)
		}
		if err != nil {
			m.logger.Warn("Failed to update surface", zap.String("display", id), zap.Error(err))
		}
	}

	if item != nil {
		m.logger.Info("Wallpaper updated",
			zap.String("id", item.Item.ID),
			zap.String("path", item.Path),
			zap.Int("surfaces", len(m.surfaces)))
	}
}

// Current returns the item last broadcast
func (m *Manager) Current() (domain.ResolvedItem, bool) {
	if m.current == nil {
		return domain.ResolvedItem{}, false
	}
	return *m.current, true
}

// Close hides and releases every surface
func (m *Manager) Close() {
	for _, id := range m.ids() {
		m.teardown(id)
	}
	m.current = nil
}

// Surfaces returns the displays that currently have a surface, by id
func (m *Manager) Surfaces() []domain.Display {
	out := make([]domain.Display, 0, len(m.surfaces))
	for _, id := range m.ids() {
		out = append(out, m.surfaces[id].display)
	}
	return out
}

func (m *Manager) ids() []string {
	ids := make([]string, 0, len(m.surfaces))
	for id := range m.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(displays map[string]domain.Display) []string {
	ids := make([]string, 0, len(displays))
	for id := range displays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
