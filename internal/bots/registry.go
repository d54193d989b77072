// Package bots maps bot.type names from the config file to policy
// factories.
package bots

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/gg/gmap"

	"github.com/tgifai/kahlabot/internal/bot"
	"github.com/tgifai/kahlabot/internal/bots/echo"
)

// Factory builds a policy from the bot.config section.
type Factory func(configMap map[string]any) (bot.Policy, error)

var (
	defaultRegistry = NewRegistry()

	Register = defaultRegistry.Register
	New      = defaultRegistry.New
	Names    = defaultRegistry.Names
)

func init() {
	_ = Register("echo", echo.New)
}

type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory, 4)}
}

func (r *Registry) Register(name string, factory Factory) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("bot type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("bot type %s has no factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("bot type already registered: %s", name)
	}
	r.factories[name] = factory
	return nil
}

func (r *Registry) New(name string, configMap map[string]any) (bot.Policy, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown bot type %q, available: %s", name, strings.Join(r.Names(), ", "))
	}

	policy, err := factory(configMap)
	if err != nil {
		return nil, fmt.Errorf("create %s bot: %w", name, err)
	}
	return policy, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := gmap.Keys(r.factories)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
