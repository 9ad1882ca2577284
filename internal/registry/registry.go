// Package registry maintains the catalog of tools permitted to execute: the
// builtin allow-list merged with validated operator extensions, plus cached
// availability and version metadata per tool.
package registry

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/jkaninda/kalimcp/internal/config"
	"github.com/jkaninda/kalimcp/internal/validate"
)

// probeTimeout bounds every availability/version probe. A hung probe must
// never block a request for longer than this.
const probeTimeout = 5 * time.Second

// ErrNotFound is returned by Lookup for names outside the allow-list.
var ErrNotFound = errors.New("tool not in allow-list")

// Descriptor is the immutable metadata for one permitted tool. Lookup hands
// out copies; the registry's own map is only replaced wholesale.
type Descriptor struct {
	Name           string
	Path           string // Resolved binary path. Empty until a probe succeeds.
	Category       string
	DefaultTimeout time.Duration // Zero = use the global default.
	Available      bool
	Version        string
	LastProbe      time.Time
}

// Registry is the allow-list catalog. Read-mostly: lookups take a read lock,
// Reload swaps the whole map under the write lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Descriptor
	logger *slog.Logger
}

// New builds a registry from the builtin table plus operator extensions.
// Extension names that fail tool-name validation are dropped with a warning —
// a config file must not be able to widen the character set.
func New(extra []config.ExtraTool, logger *slog.Logger) *Registry {
	r := &Registry{
		tools:  make(map[string]Descriptor, len(builtinTools)+len(extra)),
		logger: logger,
	}
	r.populate(extra)
	return r
}

func (r *Registry) populate(extra []config.ExtraTool) {
	tools := make(map[string]Descriptor, len(builtinTools)+len(extra))
	for _, d := range builtinTools {
		tools[d.Name] = d
	}
	for _, e := range extra {
		if err := validate.ToolName(e.Name); err != nil {
			r.logger.Warn("dropping invalid extra tool",
				slog.String("name", e.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		d := Descriptor{
			Name:     e.Name,
			Category: e.Category,
			Path:     e.Path,
		}
		if d.Category == "" {
			d.Category = "extra"
		}
		if e.TimeoutS > 0 {
			d.DefaultTimeout = time.Duration(e.TimeoutS) * time.Second
		}
		tools[e.Name] = d
	}

	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
}

// Reload atomically replaces the catalog with the builtin table plus the
// given extensions, discarding all cached probe state.
func (r *Registry) Reload(extra []config.ExtraTool) {
	r.populate(extra)
	r.logger.Info("tool registry reloaded", slog.Int("tools", r.Len()))
}

// Lookup returns the descriptor for an exact, case-sensitive name match.
// No substring or prefix matching, ever.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// Contains reports whether the name is on the allow-list.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Len returns the catalog size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RefreshAvailability probes one tool: resolves its binary on PATH (unless a
// path was configured), runs a bounded version probe, and caches the result.
// The returned descriptor reflects the new state.
func (r *Registry) RefreshAvailability(ctx context.Context, name string) (Descriptor, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return Descriptor{}, err
	}

	// A configured path is probed the same as a PATH lookup: the binary must
	// exist and be executable right now, or the tool is unavailable.
	path := d.Path
	if path == "" {
		if resolved, err := exec.LookPath(d.Name); err == nil {
			path = resolved
		}
	} else if _, err := exec.LookPath(path); err != nil {
		path = ""
	}

	d.LastProbe = time.Now().UTC()
	if path == "" {
		d.Available = false
		d.Version = ""
	} else {
		d.Path = path
		d.Available = true
		d.Version = probeVersion(ctx, path)
	}

	r.mu.Lock()
	if _, ok := r.tools[name]; ok {
		r.tools[name] = d
	}
	r.mu.Unlock()
	return d, nil
}

// RefreshAll probes every tool in the catalog. Used at startup and by the
// periodic refresher.
func (r *Registry) RefreshAll(ctx context.Context) {
	available := 0
	for _, d := range r.List() {
		refreshed, err := r.RefreshAvailability(ctx, d.Name)
		if err != nil {
			continue
		}
		if refreshed.Available {
			available++
		}
		if ctx.Err() != nil {
			return
		}
	}
	r.logger.Info("tool availability refreshed",
		slog.Int("total", r.Len()),
		slog.Int("available", available),
	)
}

// probeVersion runs `<path> --version` under the probe bound and returns the
// first output line. Many tools print nothing useful or exit non-zero; that
// just yields an empty version, never an error.
func probeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil && len(out) == 0 {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return scanner.Text()
	}
	return ""
}
