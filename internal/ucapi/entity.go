package ucapi

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
)

// Entity is a hub-visible controllable object.
type Entity struct {
	ID         string
	Type       EntityType
	Name       string
	Features   []string
	Attributes map[string]any

	handler CommandHandler
}

func NewMediaPlayer(id, name string, features []MediaPlayerFeature, attrs map[string]any, handler CommandHandler) *Entity {
	fs := make([]string, 0, len(features))
	for _, f := range features {
		fs = append(fs, string(f))
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Entity{
		ID:         id,
		Type:       EntityTypeMediaPlayer,
		Name:       name,
		Features:   fs,
		Attributes: attrs,
		handler:    handler,
	}
}

// Handler returns the bound command handler, nil if the entity accepts none.
func (e *Entity) Handler() CommandHandler { return e.handler }

func (e *Entity) clone() *Entity {
	c := *e
	c.Features = append([]string(nil), e.Features...)
	c.Attributes = maps.Clone(e.Attributes)
	if c.Attributes == nil {
		c.Attributes = map[string]any{}
	}
	return &c
}

type entityDefinition struct {
	EntityID   string            `json:"entity_id"`
	EntityType EntityType        `json:"entity_type"`
	Features   []string          `json:"features"`
	Name       map[string]string `json:"name"`
}

type entityState struct {
	EntityID   string         `json:"entity_id"`
	EntityType EntityType     `json:"entity_type"`
	Attributes map[string]any `json:"attributes"`
}

// Entities is an ordered, concurrency-safe entity registry.
type Entities struct {
	log *slog.Logger

	mu    sync.RWMutex
	order []string
	items map[string]*Entity
}

func NewEntities(name string) *Entities {
	return &Entities{
		log:   logging.Named("ucapi.entities").With("registry", name),
		items: map[string]*Entity{},
	}
}

func (r *Entities) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

func (r *Entities) Get(id string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	return e, ok
}

// Snapshot returns a copy of the entity that is safe to read while the
// registry is updated.
func (r *Entities) Snapshot(id string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

func (r *Entities) Add(e *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[e.ID]; ok {
		r.log.Debug("entity already present", "entity_id", e.ID)
		return ErrEntityExists
	}
	r.items[e.ID] = e
	r.order = append(r.order, e.ID)
	r.log.Debug("entity added", "entity_id", e.ID)
	return nil
}

func (r *Entities) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Debug("entity removed", "entity_id", id)
	return true
}

func (r *Entities) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = map[string]*Entity{}
	r.order = nil
}

// All returns the entities in insertion order.
func (r *Entities) All() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// UpdateAttributes merges attrs into the entity's attributes and returns
// false when the entity is not registered.
func (r *Entities) UpdateAttributes(id string, attrs map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return false
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	maps.Copy(e.Attributes, attrs)
	return true
}

func (r *Entities) definitions() []entityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entityDefinition, 0, len(r.order))
	for _, id := range r.order {
		e := r.items[id]
		out = append(out, entityDefinition{
			EntityID:   e.ID,
			EntityType: e.Type,
			Features:   append([]string{}, e.Features...),
			Name:       map[string]string{"en": e.Name},
		})
	}
	return out
}

func (r *Entities) states() []entityState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entityState, 0, len(r.order))
	for _, id := range r.order {
		e := r.items[id]
		attrs := make(map[string]any, len(e.Attributes))
		maps.Copy(attrs, e.Attributes)
		out = append(out, entityState{EntityID: e.ID, EntityType: e.Type, Attributes: attrs})
	}
	return out
}
