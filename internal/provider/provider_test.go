package provider

import (
	"os"
	"path/filepath"
	"testing"

	"kitsune/internal/model"
)

func TestLoad_FirstRunSavesFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provider_metadata.properties")
	g := New(path)
	fp := model.Fingerprint{Provider: "openai", Model: "text-embedding-3-small"}
	if err := g.Load(fp); err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Mismatch() {
		t.Fatal("expected no mismatch on first run")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected fingerprint file to be created: %v", err)
	}
}

func TestLoad_DetectsMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provider_metadata.properties")
	g := New(path)
	old := model.Fingerprint{Provider: "openai", Model: "text-embedding-3-small"}
	if err := g.Load(old); err != nil {
		t.Fatalf("load: %v", err)
	}

	g2 := New(path)
	newFP := model.Fingerprint{Provider: "local", Model: "all-MiniLM-L6-v2"}
	if err := g2.Load(newFP); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !g2.Mismatch() {
		t.Fatal("expected mismatch after provider change")
	}
	if err := g2.Check(); err != ErrMismatch {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestPurge_ClearsMismatchAndSavesNewFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provider_metadata.properties")
	g := New(path)
	old := model.Fingerprint{Provider: "openai", Model: "text-embedding-3-small"}
	g.Load(old)

	g2 := New(path)
	newFP := model.Fingerprint{Provider: "local", Model: "all-MiniLM-L6-v2"}
	g2.Load(newFP)
	if !g2.Mismatch() {
		t.Fatal("expected mismatch before purge")
	}

	truncated := false
	if err := g2.Purge(newFP, func() error { truncated = true; return nil }); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !truncated {
		t.Fatal("expected truncate callback to run")
	}
	if g2.Mismatch() {
		t.Fatal("expected mismatch cleared after purge")
	}

	g3 := New(path)
	if err := g3.Load(newFP); err != nil {
		t.Fatalf("load: %v", err)
	}
	if g3.Mismatch() {
		t.Fatal("expected no mismatch after purge and reload")
	}
}

func TestPurge_TruncateFailureLeavesMismatchSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provider_metadata.properties")
	g := New(path)
	old := model.Fingerprint{Provider: "openai", Model: "text-embedding-3-small"}
	g.Load(old)

	g2 := New(path)
	newFP := model.Fingerprint{Provider: "local", Model: "all-MiniLM-L6-v2"}
	g2.Load(newFP)

	err := g2.Purge(newFP, func() error { return os.ErrInvalid })
	if err == nil {
		t.Fatal("expected purge to fail when truncate fails")
	}
	if !g2.Mismatch() {
		t.Fatal("expected mismatch to remain set after failed purge")
	}
}
