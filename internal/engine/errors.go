package engine

import (
	"errors"

	"kitsune/internal/provider"
)

// Sentinel errors for the taxonomy of error kinds a caller needs to branch
// on: configuration and shutdown are fatal/fast-fail, storage/embedding
// transient errors are worth a retry, permanent ones are not.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrProviderMismatch  = provider.ErrMismatch
	ErrStorageTransient  = errors.New("storage unavailable, try again")
	ErrStorageCorrupt    = errors.New("storage corrupt")
	ErrEmbeddingTransient = errors.New("embedding service unavailable, try again")
	ErrEmbeddingPermanent = errors.New("search failed")
	ErrClientInput        = errors.New("invalid request")
	ErrShuttingDown       = errors.New("shutting down")
)
