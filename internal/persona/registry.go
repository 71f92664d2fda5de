package persona

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/comigor/shapeschat/internal/logger"
	"github.com/comigor/shapeschat/internal/store"
)

// Options configures a Registry.
type Options struct {
	// Namespace prefixes persona ids to form completion model ids.
	Namespace string
	// VanityDomain is the only host accepted by Register.
	VanityDomain string
}

// Registry is the source of truth for known personas. Storage failures are
// logged and never returned: the registry keeps serving from memory.
type Registry struct {
	st   store.Store
	opts Options
	log  *slog.Logger

	mu sync.RWMutex
	// entries holds the built-ins first, then customs in registration order.
	entries []Persona
	// stored lists the ids persisted under custom_shape_names, in order.
	stored []string
	models map[string]string
}

// NewRegistry builds a registry and loads custom personas from st.
func NewRegistry(ctx context.Context, st store.Store, opts Options) *Registry {
	if opts.Namespace == "" {
		opts.Namespace = "shapesinc"
	}
	r := &Registry{
		st:      st,
		opts:    opts,
		log:     logger.Component("persona"),
		entries: BuiltIns(),
		models:  make(map[string]string),
	}
	r.load(ctx)
	return r
}

func (r *Registry) load(ctx context.Context) {
	if raw, ok := r.read(ctx, store.KeyCustomShapes); ok {
		fields, err := decodeObject(raw)
		if err != nil {
			r.log.Warn("corrupt custom model map; ignoring", "error", err)
		}
		for _, f := range fields {
			var model string
			if err := json.Unmarshal(f.Value, &model); err == nil && model != "" {
				r.models[f.Key] = model
			}
		}
	}

	raw, ok := r.read(ctx, store.KeyCustomShapeNames)
	if !ok {
		return
	}
	fields, err := decodeObject(raw)
	if err != nil {
		r.log.Warn("corrupt custom persona names; using built-ins", "error", err)
		return
	}

	upgraded := false
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		e, legacy, err := decodeNameEntry(f.Value)
		if err != nil {
			r.log.Warn("skipping unreadable persona entry", "persona", f.Key, "error", err)
			continue
		}
		upgraded = upgraded || legacy
		p := Persona{ID: f.Key, DisplayName: e.Name}
		if p.DisplayName == "" {
			p.DisplayName = DeriveName(p.ID)
		}
		if e.AvatarURL != nil {
			p.AvatarURL = *e.AvatarURL
		}
		r.entries, r.stored = place(r.entries, r.stored, p)
	}

	if upgraded {
		r.log.Info("upgrading legacy persona names")
		r.persist(ctx, r.entries, r.stored)
	}
}

func (r *Registry) read(ctx context.Context, key string) (string, bool) {
	raw, ok, err := r.st.Get(ctx, key)
	if err != nil {
		r.log.Warn("persona store read failed", "key", key, "error", err)
		return "", false
	}
	return raw, ok && strings.TrimSpace(raw) != ""
}

// place inserts or updates p in entries and records it in stored.
func place(entries []Persona, stored []string, p Persona) ([]Persona, []string) {
	if i := slices.IndexFunc(entries, func(e Persona) bool { return e.ID == p.ID }); i >= 0 {
		p.BuiltIn = entries[i].BuiltIn
		entries[i] = p
	} else {
		p.BuiltIn = false
		entries = append(entries, p)
	}
	if !slices.Contains(stored, p.ID) {
		stored = append(stored, p.ID)
	}
	return entries, stored
}

// List returns built-ins first, then custom personas in registration order.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

// Resolve looks id up. Unknown ids get a transient persona with a derived
// name and no avatar; ok reports whether id is registered.
func (r *Registry) Resolve(id string) (p Persona, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Persona{ID: id, DisplayName: DeriveName(id)}, false
}

// ModelID is the completion model identifier for a persona.
func (r *Registry) ModelID(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[id]; ok {
		return m
	}
	return r.opts.Namespace + "/" + id
}

// Register parses rawInput as a vanity URL and upserts the persona it names.
// An empty displayName is derived from the id.
func (r *Registry) Register(ctx context.Context, rawInput, displayName, avatarURL string) (Persona, error) {
	id, err := ParseVanityURL(rawInput, r.opts.VanityDomain)
	if err != nil {
		return Persona{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = DeriveName(id)
	}
	return r.upsert(ctx, "persona registered", Persona{ID: id, DisplayName: displayName, AvatarURL: strings.TrimSpace(avatarURL)}), nil
}

// CacheAvatar stores avatarURL against a known persona. Unknown ids are
// ignored and reported with ok=false.
func (r *Registry) CacheAvatar(ctx context.Context, id, avatarURL string) (p Persona, ok bool) {
	p, ok = r.Resolve(id)
	if !ok {
		return p, false
	}
	p.AvatarURL = avatarURL
	return r.upsert(ctx, "persona avatar updated", p), true
}

func (r *Registry) upsert(ctx context.Context, action string, p Persona) Persona {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, stored := place(slices.Clone(r.entries), slices.Clone(r.stored), p)
	if _, ok := r.models[p.ID]; !ok {
		r.models[p.ID] = r.opts.Namespace + "/" + p.ID
	}
	r.persist(ctx, entries, stored)
	r.entries, r.stored = entries, stored

	i := slices.IndexFunc(entries, func(e Persona) bool { return e.ID == p.ID })
	r.log.Info(action, "persona", p.ID, "name", entries[i].DisplayName)
	return entries[i]
}

// persist writes both persona keys. Callers hold r.mu or own the registry.
func (r *Registry) persist(ctx context.Context, entries []Persona, stored []string) {
	names := make([]field, 0, len(stored))
	models := make([]field, 0, len(stored))
	for _, id := range stored {
		i := slices.IndexFunc(entries, func(e Persona) bool { return e.ID == id })
		if i < 0 {
			continue
		}
		names = append(names, field{Key: id, Value: encodeNameEntry(entries[i])})
		m, ok := r.models[id]
		if !ok {
			m = r.opts.Namespace + "/" + id
		}
		mb, _ := json.Marshal(m)
		models = append(models, field{Key: id, Value: mb})
	}

	r.write(ctx, store.KeyCustomShapes, models)
	r.write(ctx, store.KeyCustomShapeNames, names)
}

func (r *Registry) write(ctx context.Context, key string, fields []field) {
	raw, err := encodeObject(fields)
	if err == nil {
		err = r.st.Set(ctx, key, raw)
	}
	if err != nil {
		r.log.Warn("persona store write failed; keeping in-memory state", "key", key, "error", err)
	}
}
