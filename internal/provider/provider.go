// Package provider implements the provider-fingerprint guard (C7): it
// persists the (provider, model) pair that produced the vectors currently on
// disk and refuses indexing/search once the configured fingerprint diverges
// from it, until an explicit purge.
package provider

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"kitsune/internal/errlog"
	"kitsune/internal/model"
)

// ErrMismatch is returned by operations the guard gates once a fingerprint
// change has been detected.
var ErrMismatch = fmt.Errorf("provider changed; run purge first")

// Guard tracks whether the configured embedding fingerprint still matches
// the one that produced the vectors currently stored on disk.
type Guard struct {
	path      string
	mu        sync.RWMutex
	mismatch  bool
	persisted model.Fingerprint
	hasFile   bool
}

// New builds a Guard backed by a two-key properties file at path.
func New(path string) *Guard {
	return &Guard{path: path}
}

// Load reads the persisted fingerprint. If the file is absent, it persists
// configured and returns with mismatch cleared. If present and different
// from configured, it sets the mismatch flag.
func (g *Guard) Load(configured model.Fingerprint) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fp, ok, err := readFingerprint(g.path)
	if err != nil {
		return fmt.Errorf("provider: load fingerprint: %w", err)
	}
	if !ok {
		if err := writeFingerprint(g.path, configured); err != nil {
			return fmt.Errorf("provider: save initial fingerprint: %w", err)
		}
		g.persisted = configured
		g.hasFile = true
		g.mismatch = false
		return nil
	}

	g.persisted = fp
	g.hasFile = true
	g.mismatch = !fp.Equal(configured)
	if g.mismatch {
		errlog.Errorf(errlog.ComponentProvider, "fingerprint mismatch: persisted %s/%s, configured %s/%s",
			fp.Provider, fp.Model, configured.Provider, configured.Model)
	}
	return nil
}

// Mismatch reports whether the process-wide mismatch flag is set. It is
// monotonic: once set, it stays set until Purge runs.
func (g *Guard) Mismatch() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mismatch
}

// Check returns ErrMismatch if the guard is in a mismatch state, otherwise
// nil. Callers performing indexing or search should call this first.
func (g *Guard) Check() error {
	if g.Mismatch() {
		return ErrMismatch
	}
	return nil
}

// Purge truncates persistent state via truncate, then deletes the old
// fingerprint file and saves configured, clearing the mismatch flag. If
// truncate fails, the fingerprint file is left untouched and the mismatch
// flag (if set) remains set.
func (g *Guard) Purge(configured model.Fingerprint, truncate func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := truncate(); err != nil {
		return fmt.Errorf("provider: purge truncate: %w", err)
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("provider: remove fingerprint file: %w", err)
	}
	if err := writeFingerprint(g.path, configured); err != nil {
		return fmt.Errorf("provider: save fingerprint after purge: %w", err)
	}
	g.persisted = configured
	g.hasFile = true
	g.mismatch = false
	return nil
}

// Current returns the persisted fingerprint and whether one has been loaded.
func (g *Guard) Current() (model.Fingerprint, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.persisted, g.hasFile
}

// readFingerprint parses the two-key properties file format:
//
//	provider=openai
//	model=text-embedding-3-small
func readFingerprint(path string) (model.Fingerprint, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Fingerprint{}, false, nil
		}
		return model.Fingerprint{}, false, err
	}
	defer f.Close()

	var fp model.Fingerprint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "provider":
			fp.Provider = strings.TrimSpace(value)
		case "model":
			fp.Model = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return model.Fingerprint{}, false, err
	}
	return fp, true, nil
}

// writeFingerprint writes the two-key properties file format, overwriting
// any existing file.
func writeFingerprint(path string, fp model.Fingerprint) error {
	content := fmt.Sprintf("provider=%s\nmodel=%s\n", fp.Provider, fp.Model)
	return os.WriteFile(path, []byte(content), 0600)
}
