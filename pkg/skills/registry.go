package skills

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/kawan/pkg/auth"
	"github.com/rs/zerolog"
)

// ErrFunctionNotFound is returned by Execute when no visible, enabled skill
// owns the requested function.
var ErrFunctionNotFound = errors.New("function not found")

// Handler executes one skill function.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is a provider-neutral function-calling schema entry.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Execution reports which skill served an executed function.
type Execution struct {
	SkillName    string
	FunctionName string
	Result       interface{}
}

type entry struct {
	manifest Manifest
	handlers map[string]Handler
	enabled  bool
}

// Registry is the process-wide skill catalog. Reads are frequent (every chat
// turn builds a tool list); writes only happen on registration, import and
// toggles, so a single RWMutex over the catalog map is enough.
type Registry struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	catalog map[string]*entry
}

// NewRegistry creates an empty skill registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "skills").Logger(),
		catalog: make(map[string]*entry),
	}
}

// Register validates a manifest and adds the skill to the catalog. Declared
// functions without a handler are dropped with a warning; a skill whose
// functions all lack handlers is rejected. Re-registering a name replaces the
// previous skill.
func (r *Registry) Register(manifest Manifest, handlers map[string]Handler) error {
	if err := ValidateManifest(manifest); err != nil {
		return err
	}

	kept := make([]FunctionDef, 0, len(manifest.Functions))
	bound := make(map[string]Handler, len(manifest.Functions))
	for _, fn := range manifest.Functions {
		h, ok := handlers[fn.Name]
		if !ok || h == nil {
			r.logger.Warn().
				Str("skill", manifest.Name).
				Str("function", fn.Name).
				Msg("Declared function has no handler, dropping")
			continue
		}
		kept = append(kept, fn)
		bound[fn.Name] = h
	}
	if len(kept) == 0 {
		return fmt.Errorf("skill %q has no executable functions", manifest.Name)
	}
	manifest.Functions = kept

	r.mu.Lock()
	r.catalog[manifest.Name] = &entry{manifest: manifest, handlers: bound, enabled: true}
	r.mu.Unlock()

	r.logger.Info().
		Str("skill", manifest.Name).
		Str("version", manifest.Version).
		Int("functions", len(kept)).
		Msg("Skill registered")

	return nil
}

// Unregister removes a skill from the catalog.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.catalog[name]
	delete(r.catalog, name)
	r.mu.Unlock()

	if existed {
		r.logger.Info().Str("skill", name).Msg("Skill unregistered")
	}
}

// SetEnabled toggles a skill on or off.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.catalog[name]
	if !ok {
		return fmt.Errorf("unknown skill: %s", name)
	}
	e.enabled = enabled
	return nil
}

// visibleTo reports whether a skill is visible to the given identity. Skills
// with no declared visibility default to public.
func visibleTo(m Manifest, id *auth.User) bool {
	if m.Visibility != VisibilityPrivate {
		return true
	}
	if id == nil {
		return false
	}
	return m.Owner == id.UserID || (id.Phone != "" && m.Owner == id.Phone)
}

// ListForUser returns the manifests visible to an identity, enabled or not.
func (r *Registry) ListForUser(id *auth.User) []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Manifest
	for _, e := range r.catalog {
		if visibleTo(e.manifest, id) {
			out = append(out, e.manifest)
		}
	}
	return out
}

// Enabled reports whether a skill exists and is enabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.catalog[name]
	return ok && e.enabled
}

// ToFunctionCallingTools flattens the visible, enabled catalog into a
// function-calling tool list consumable by any provider.
func (r *Registry) ToFunctionCallingTools(id *auth.User) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []Tool
	for _, e := range r.catalog {
		if !e.enabled || !visibleTo(e.manifest, id) {
			continue
		}
		for _, fn := range e.manifest.Functions {
			params := fn.Parameters
			if params == nil {
				params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
			}
			tools = append(tools, Tool{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  params,
			})
		}
	}
	return tools
}

// Execute runs a function by name under the caller's visibility context.
func (r *Registry) Execute(ctx context.Context, functionName string, args map[string]interface{}, id *auth.User) (Execution, error) {
	r.mu.RLock()
	var target *entry
	for _, e := range r.catalog {
		if !e.enabled || !visibleTo(e.manifest, id) {
			continue
		}
		if _, ok := e.handlers[functionName]; ok {
			target = e
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return Execution{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, functionName)
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := target.handlers[functionName](ctx, args)
	if err != nil {
		return Execution{}, fmt.Errorf("skill %s function %s: %w", target.manifest.Name, functionName, err)
	}

	return Execution{
		SkillName:    target.manifest.Name,
		FunctionName: functionName,
		Result:       result,
	}, nil
}

// Describe returns the manifest for a named skill.
func (r *Registry) Describe(name string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.catalog[name]
	if !ok {
		return Manifest{}, false
	}
	return e.manifest, true
}

// FunctionOwner returns the manifest of the visible, enabled skill owning a
// function name.
func (r *Registry) FunctionOwner(functionName string, id *auth.User) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.catalog {
		if !e.enabled || !visibleTo(e.manifest, id) {
			continue
		}
		if _, ok := e.handlers[functionName]; ok {
			return e.manifest, true
		}
	}
	return Manifest{}, false
}
