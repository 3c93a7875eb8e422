package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors - use with errors.Is()
var (
	ErrBlockNotFound          = errors.New("block not found")
	ErrBlockExists            = errors.New("block already exists")
	ErrCyclicMove             = errors.New("cyclic move")
	ErrUnknownFlavour         = errors.New("unknown flavour")
	ErrInvalidOrder           = errors.New("invalid order key")
	ErrInvalidAtomicAttribute = errors.New("invalid atomic attribute")
	ErrAssetResolution        = errors.New("asset resolution failed")
	ErrMalformedMarkdown      = errors.New("malformed markdown")
	ErrValidation             = errors.New("validation failed")
)

// Domain error types carrying structured context
type (
	// BlockNotFoundError indicates an operation referenced a missing or
	// tombstoned block id.
	BlockNotFoundError struct {
		ID string
	}

	// CyclicMoveError indicates a move that would make a block an ancestor
	// of itself.
	CyclicMoveError struct {
		ID     string
		Parent string
	}

	// UnknownFlavourError indicates a flavour with no registered schema.
	UnknownFlavourError struct {
		Flavour string
	}

	// InvalidOrderError indicates order keys that cannot bound a new key,
	// or a key outside the canonical form.
	InvalidOrderError struct {
		A string
		B string
	}

	// InvalidAtomicAttributeError indicates an atomic text attribute bound
	// to a run longer than a single unit.
	InvalidAtomicAttributeError struct {
		Attribute string
		Length    int
	}

	// AssetResolutionError indicates a blob id that could not be resolved
	// through the assets manager.
	AssetResolutionError struct {
		BlobID string
		Cause  error
	}

	// MalformedMarkdownError indicates source text the markdown parser
	// rejected outright. Conversions that fail this way produce no result.
	MalformedMarkdownError struct {
		Reason string
	}
)

func (e *BlockNotFoundError) Error() string {
	return fmt.Sprintf("block %q not found", e.ID)
}

func (e *CyclicMoveError) Error() string {
	return fmt.Sprintf("moving block %q under %q would create a cycle", e.ID, e.Parent)
}

func (e *UnknownFlavourError) Error() string {
	return fmt.Sprintf("unknown flavour %q", e.Flavour)
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order keys %q, %q", e.A, e.B)
}

func (e *InvalidAtomicAttributeError) Error() string {
	return fmt.Sprintf("atomic attribute %q requires a single-character run, got length %d", e.Attribute, e.Length)
}

func (e *AssetResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolving asset %q: %v", e.BlobID, e.Cause)
	}
	return fmt.Sprintf("resolving asset %q", e.BlobID)
}

func (e *MalformedMarkdownError) Error() string {
	return fmt.Sprintf("malformed markdown: %s", e.Reason)
}

// Is implementations let errors.Is() match typed errors against sentinels
func (e *BlockNotFoundError) Is(target error) bool          { return target == ErrBlockNotFound }
func (e *CyclicMoveError) Is(target error) bool             { return target == ErrCyclicMove }
func (e *UnknownFlavourError) Is(target error) bool         { return target == ErrUnknownFlavour }
func (e *InvalidOrderError) Is(target error) bool           { return target == ErrInvalidOrder }
func (e *InvalidAtomicAttributeError) Is(target error) bool { return target == ErrInvalidAtomicAttribute }
func (e *AssetResolutionError) Is(target error) bool        { return target == ErrAssetResolution }
func (e *MalformedMarkdownError) Is(target error) bool      { return target == ErrMalformedMarkdown }

func (e *AssetResolutionError) Unwrap() error { return e.Cause }
