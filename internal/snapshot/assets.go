package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/suyash5053/AFFiNE/internal/config"
	"github.com/suyash5053/AFFiNE/internal/domain"
)

// Blob is one external binary referenced from a block's sourceId prop.
type Blob struct {
	Name      string
	MediaType string
	Data      []byte
}

// AssetsManager resolves blob ids during import and receives blobs
// collected during export. Implementations may hit disk or network, so
// both methods take a context.
type AssetsManager interface {
	Get(ctx context.Context, blobID string) (*Blob, error)
	Set(ctx context.Context, blobID string, blob *Blob) error
}

// blob ids come from snapshots and markdown, never trust them as paths
var blobIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateBlobID rejects ids that could escape an assets directory.
func ValidateBlobID(blobID string) error {
	if len(blobID) > config.MaxBlobIDLength || !blobIDRegex.MatchString(blobID) {
		return fmt.Errorf("%w: invalid blob id %q", domain.ErrValidation, blobID)
	}
	return nil
}

// MemoryAssets is the in-process assets manager used by tests and
// clipboard flows.
type MemoryAssets struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
}

// NewMemoryAssets returns an empty in-memory manager.
func NewMemoryAssets() *MemoryAssets {
	return &MemoryAssets{blobs: make(map[string]*Blob)}
}

// Get returns the blob or domain.ErrAssetResolution when absent.
func (m *MemoryAssets) Get(_ context.Context, blobID string) (*Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[blobID]
	if !ok {
		return nil, &domain.AssetResolutionError{BlobID: blobID}
	}
	return b, nil
}

// Set stores the blob under blobID.
func (m *MemoryAssets) Set(_ context.Context, blobID string, blob *Blob) error {
	if err := ValidateBlobID(blobID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[blobID] = blob
	return nil
}

// Len reports how many blobs are held.
func (m *MemoryAssets) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// DirAssets stores each blob as {blobID}.blob inside one directory, the
// layout the markdown adapter links against.
type DirAssets struct {
	dir string
}

// NewDirAssets creates the directory if needed and returns a manager
// over it.
func NewDirAssets(dir string) (*DirAssets, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating assets dir: %w", err)
	}
	return &DirAssets{dir: dir}, nil
}

// Get reads the blob file for blobID.
func (d *DirAssets) Get(ctx context.Context, blobID string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateBlobID(blobID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.dir, blobID+".blob"))
	if err != nil {
		return nil, &domain.AssetResolutionError{BlobID: blobID, Cause: err}
	}
	return &Blob{Name: blobID + ".blob", Data: data}, nil
}

// Set writes the blob file for blobID.
func (d *DirAssets) Set(ctx context.Context, blobID string, blob *Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateBlobID(blobID); err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("%w: nil blob for %q", domain.ErrValidation, blobID)
	}
	path := filepath.Join(d.dir, blobID+".blob")
	if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
		return fmt.Errorf("writing asset %q: %w", blobID, err)
	}
	return nil
}
