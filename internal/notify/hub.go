package notify

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Hub errors.
var (
	ErrNilHandler      = errors.New("surface handler cannot be nil")
	ErrSurfaceNotFound = errors.New("surface not found")
)

// Handler receives envelopes posted to a surface.
type Handler func(Envelope) error

// Surface is an open client view that can receive envelopes and be focused.
type Surface interface {
	ID() string
	Post(Envelope) error
	Focus() error
}

// SurfaceRegistry enumerates open surfaces, most recently focused first.
type SurfaceRegistry interface {
	Surfaces() []Surface
}

type hubSurface struct {
	id      string
	hub     *Hub
	handler Handler
	onFocus func()
}

func (s *hubSurface) ID() string { return s.id }

func (s *hubSurface) Post(env Envelope) error {
	return s.handler(env)
}

func (s *hubSurface) Focus() error {
	if !s.hub.touch(s.id) {
		return ErrSurfaceNotFound
	}
	if s.onFocus != nil {
		s.onFocus()
	}
	return nil
}

// Hub is the in-process surface registry.
type Hub struct {
	mu       sync.RWMutex
	surfaces map[string]*hubSurface
	order    []string
}

var _ SurfaceRegistry = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{surfaces: make(map[string]*hubSurface)}
}

// Register opens a surface and returns it with its unregister function.
// onFocus, if set, runs whenever the surface is focused.
func (h *Hub) Register(handler Handler, onFocus func()) (Surface, func(), error) {
	if handler == nil {
		return nil, nil, ErrNilHandler
	}
	s := &hubSurface{id: uuid.NewString(), hub: h, handler: handler, onFocus: onFocus}

	h.mu.Lock()
	h.surfaces[s.id] = s
	h.order = append([]string{s.id}, h.order...)
	h.mu.Unlock()

	return s, func() { h.unregister(s.id) }, nil
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.surfaces, id)
	h.order = without(h.order, id)
}

// touch moves id to the front of the focus order.
func (h *Hub) touch(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.surfaces[id]; !ok {
		return false
	}
	h.order = append([]string{id}, without(h.order, id)...)
	return true
}

// Surfaces returns open surfaces, most recently focused first.
func (h *Hub) Surfaces() []Surface {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Surface, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.surfaces[id])
	}
	return out
}

// Count returns the number of open surfaces.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.surfaces)
}

// Close drops every surface.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.surfaces = make(map[string]*hubSurface)
	h.order = nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
