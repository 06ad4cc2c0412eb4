package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides scene management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Scene
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new scene registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Scene),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all scenes from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	scenes, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Scene, len(scenes))
	for i := range scenes {
		s := scenes[i]
		r.cache[s.ID] = s.DeepCopy()
	}

	r.logger.Info("scene cache refreshed", "count", len(scenes))
	return nil
}

// GetScene retrieves a scene by ID.
// The returned scene is a deep copy; callers can safely modify it.
func (r *Registry) GetScene(_ context.Context, id string) (*Scene, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrSceneNotFound
}

// ListScenes retrieves all scenes from the cache.
// Returns deep copies sorted by name then ID for deterministic ordering.
func (r *Registry) ListScenes(_ context.Context) ([]Scene, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	scenes := make([]Scene, 0, len(r.cache))
	for _, s := range r.cache {
		scenes = append(scenes, *s.DeepCopy())
	}
	sort.Slice(scenes, func(i, j int) bool {
		if scenes[i].Name != scenes[j].Name {
			return scenes[i].Name < scenes[j].Name
		}
		return scenes[i].ID < scenes[j].ID
	})
	return scenes, nil
}

// CreateScene validates, persists, and caches a new scene.
func (r *Registry) CreateScene(ctx context.Context, s *Scene) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}

	if err := ValidateScene(s); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("scene created", "id", s.ID, "name", s.Name)
	return nil
}

// UpdateScene validates, persists, and updates the cached scene.
func (r *Registry) UpdateScene(ctx context.Context, s *Scene) error {
	if err := ValidateScene(s); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("scene updated", "id", s.ID, "name", s.Name)
	return nil
}

// DeleteScene removes a scene from persistence and cache.
func (r *Registry) DeleteScene(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("scene deleted", "id", id)
	return nil
}

// SceneCount returns the number of cached scenes.
func (r *Registry) SceneCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
