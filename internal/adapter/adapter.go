// Package adapter defines the conversion surface between snapshots and
// external formats, and a registry that routes by format name or file
// extension.
package adapter

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

// Adapter converts between snapshots and one external text format. Both
// directions run under a snapshot.Job, which supplies schema, assets,
// sibling-doc lookup and middleware configuration.
type Adapter interface {
	// Name is the format name used for routing, e.g. "markdown".
	Name() string
	// Extensions lists file extensions this adapter claims, with dots.
	Extensions() []string

	FromDocSnapshot(ctx context.Context, snap *snapshot.DocSnapshot, job *snapshot.Job) (string, error)
	FromBlockSnapshot(ctx context.Context, snap *snapshot.BlockSnapshot, job *snapshot.Job) (string, error)
	FromSliceSnapshot(ctx context.Context, snap *snapshot.SliceSnapshot, job *snapshot.Job) (string, error)

	ToDocSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.DocSnapshot, error)
	ToBlockSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.BlockSnapshot, error)
	ToSliceSnapshot(ctx context.Context, content string, job *snapshot.Job) (*snapshot.SliceSnapshot, error)
}

// Registry routes adapters by name and by file extension.
//
// Thread-safe for concurrent access.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Adapter
	byExt  map[string]Adapter
}

// NewRegistry returns an empty registry; callers register the adapters
// they need.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Adapter),
		byExt:  make(map[string]Adapter),
	}
}

// Register adds an adapter under its name and extensions. Extensions
// are normalized to lowercase with a leading dot.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[strings.ToLower(a.Name())] = a
	for _, ext := range a.Extensions() {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.byExt[ext] = a
	}
}

// Get returns the adapter registered under a format name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[strings.ToLower(name)]
	return a, ok
}

// ForFile returns the adapter claiming the file's extension.
func (r *Registry) ForFile(filename string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byExt[strings.ToLower(filepath.Ext(filename))]
	return a, ok
}

// Convert routes content by filename and imports it as a doc snapshot.
func (r *Registry) Convert(ctx context.Context, filename string, content []byte, job *snapshot.Job) (*snapshot.DocSnapshot, error) {
	a, ok := r.ForFile(filename)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}
	return a.ToDocSnapshot(ctx, string(content), job)
}

// Names lists the registered format names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SupportedExtensions lists the registered extensions, sorted.
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for e := range r.byExt {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
