package errlog

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetGlobal tears down the package-level singleton so each test starts clean.
func resetGlobal() {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		global.close()
		global = nil
	}
}

func newTempLogger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	resetGlobal()

	path := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	global = &errorLogger{
		file:       f,
		dir:        dir,
		path:       path,
		size:       0,
		buf:        make([]byte, 0, writeBufSize),
		maxRotSize: maxFileSize,
	}
	mu.Unlock()
	t.Cleanup(resetGlobal)
	return dir
}

func TestErrorfTagsComponent(t *testing.T) {
	dir := newTempLogger(t)

	Errorf(ComponentEmbedding, "API error (HTTP %d): %s", 500, "timeout")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "[ERROR] [embedding] API error (HTTP 500): timeout") {
		t.Errorf("expected component-tagged line, got: %s", content)
	}
}

func TestErrorfUntaggedComponentOmitsBrackets(t *testing.T) {
	dir := newTempLogger(t)

	Errorf(componentNone, "bare message %d", 7)

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "[ERROR] bare message 7") {
		t.Errorf("expected untagged line, got: %s", content)
	}
	if strings.Contains(content, "[ERROR] [") {
		t.Errorf("did not expect a component bracket for an untagged entry, got: %s", content)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	resetGlobal()

	path := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	global = &errorLogger{
		file:       f,
		dir:        dir,
		path:       path,
		size:       maxFileSize - 10, // just under the threshold
		buf:        make([]byte, 0, writeBufSize),
		maxRotSize: maxFileSize,
	}
	mu.Unlock()
	defer resetGlobal()

	// This write should push size over maxFileSize and trigger rotation.
	Errorf(ComponentIndexer, "this message triggers rotation because the size counter is near the limit")

	// After rotation, there should be a .gz archive in the directory.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var gzFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".log.gz") {
			gzFiles = append(gzFiles, e.Name())
		}
	}
	if len(gzFiles) == 0 {
		t.Fatal("expected at least one .gz archive after rotation, found none")
	}

	gzPath := filepath.Join(dir, gzFiles[0])
	gf, err := os.Open(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	defer gf.Close()

	gr, err := gzip.NewReader(gf)
	if err != nil {
		t.Fatalf("invalid gzip archive: %v", err)
	}
	defer gr.Close()

	content, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("failed to read gzip content: %v", err)
	}
	if !strings.Contains(string(content), "triggers rotation") {
		t.Errorf("archive content missing expected message, got: %s", string(content))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 0 {
		t.Errorf("expected active log to be empty after rotation, size=%d", info.Size())
	}
}

func TestPruneArchives(t *testing.T) {
	dir := t.TempDir()

	// Create maxBackups + 3 fake archives.
	for i := 0; i < maxBackups+3; i++ {
		name := filepath.Join(dir, strings.Replace(
			"error-20260101-00000X.log.gz", "X", string(rune('0'+i)), 1))
		os.WriteFile(name, []byte("fake"), 0644)
	}

	l := &errorLogger{dir: dir}
	l.pruneArchives()

	entries, _ := os.ReadDir(dir)
	var remaining int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".log.gz") {
			remaining++
		}
	}
	if remaining != maxBackups {
		t.Errorf("expected %d archives after prune, got %d", maxBackups, remaining)
	}
}

func TestErrorfBeforeInit(t *testing.T) {
	resetGlobal()
	// Should not panic.
	Errorf(ComponentStorage, "this should be silently ignored")
}

func TestCloseIdempotent(t *testing.T) {
	resetGlobal()
	// Should not panic even when called multiple times with no init.
	Close()
	Close()
}

func TestRecentEntries_ParsesComponentAndMessage(t *testing.T) {
	newTempLogger(t)

	Errorf(ComponentProvider, "fingerprint mismatch for %s", "openai")
	Errorf(ComponentQuery, "rerank failed: %v", "boom")

	entries, err := RecentEntries(10)
	if err != nil {
		t.Fatalf("recentEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Component != ComponentProvider {
		t.Errorf("expected first entry component %q, got %q", ComponentProvider, entries[0].Component)
	}
	if entries[0].Message != "fingerprint mismatch for openai" {
		t.Errorf("unexpected message: %q", entries[0].Message)
	}
	if entries[0].Time.IsZero() {
		t.Error("expected parsed timestamp, got zero value")
	}
	if entries[1].Component != ComponentQuery {
		t.Errorf("expected second entry component %q, got %q", ComponentQuery, entries[1].Component)
	}
}

func TestRecentEntries_EmptyLogReturnsEmptySlice(t *testing.T) {
	newTempLogger(t)

	entries, err := RecentEntries(10)
	if err != nil {
		t.Fatalf("recentEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries for an empty log, got %d", len(entries))
	}
}
