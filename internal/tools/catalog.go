// ABOUTME: Thread-safe catalog of named tools available to agents
// ABOUTME: Detects name collisions at registration and resolves agent tool lists

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrToolNotFound indicates the named tool is not in the catalog.
var ErrToolNotFound = errors.New("tool not found")

// Handler executes a tool against free-form input and returns its output.
type Handler func(ctx context.Context, input string) (string, error)

// Tool is a named capability an agent can invoke.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Invoke runs the tool.
func (t *Tool) Invoke(ctx context.Context, input string) (string, error) {
	out, err := t.Handler(ctx, input)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", t.Name, err)
	}
	return out, nil
}

// Catalog maintains the set of registered tools.
type Catalog struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds tools to the catalog. Either all tools are added or none:
// any name collision (with the catalog or within the batch) returns
// ErrToolCollision.
func (c *Catalog) Register(tools ...*Tool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := make(map[string]bool, len(tools))
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("tool %q: name and handler are required", t.Name)
		}
		if _, exists := c.tools[t.Name]; exists || batch[t.Name] {
			return fmt.Errorf("%w: tool '%s' already registered", ErrToolCollision, t.Name)
		}
		batch[t.Name] = true
	}

	for _, t := range tools {
		c.tools[t.Name] = t
		c.logger.Debug("tool registered", "tool", t.Name)
	}
	return nil
}

// Get returns the named tool.
func (c *Catalog) Get(name string) (*Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Resolve looks up each name in order. Unknown names are skipped and
// returned separately so the caller can report them.
func (c *Catalog) Resolve(names []string) (found []*Tool, missing []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		if t, ok := c.tools[name]; ok {
			found = append(found, t)
		} else {
			missing = append(missing, name)
		}
	}
	return found, missing
}

// List returns all tools sorted by name.
func (c *Catalog) List() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
