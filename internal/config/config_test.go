package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/quick"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901") // 32 bytes
}

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func newTestManager(t *testing.T) (*ConfigManager, string) {
	t.Helper()
	path := tempConfigPath(t)
	cm, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	return cm, path
}

func TestNewConfigManagerWithKey_InvalidKeyLength(t *testing.T) {
	_, err := NewConfigManagerWithKey("test.json", []byte("short"))
	if err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestLoad_CreatesDefaultOnMissing(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	cfg := cm.Get()
	if cfg == nil {
		t.Fatal("Get returned nil")
	}

	if cfg.Indexing.DebounceMS != 1500 {
		t.Errorf("DebounceMS = %d, want 1500", cfg.Indexing.DebounceMS)
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("DefaultLimit = %d, want 10", cfg.Search.DefaultLimit)
	}
	if cfg.Search.RerankAlpha != 0.7 {
		t.Errorf("RerankAlpha = %f, want 0.7", cfg.Search.RerankAlpha)
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("Dimension = %d, want 768", cfg.Embedding.Dimension)
	}
	if cfg.Storage.DBPath != "./data/kitsune.db" {
		t.Errorf("DBPath = %q, want ./data/kitsune.db", cfg.Storage.DBPath)
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cm.config.Embedding.APIKey = "emb-secret-key-67890"
	cm.config.Embedding.Endpoint = "https://api.example.com/v1"
	cm.config.Search.RerankAlpha = 0.4

	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cm2, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := cm2.Get()
	if cfg.Embedding.APIKey != "emb-secret-key-67890" {
		t.Errorf("Embedding.APIKey = %q", cfg.Embedding.APIKey)
	}
	if cfg.Embedding.Endpoint != "https://api.example.com/v1" {
		t.Errorf("Embedding.Endpoint = %q", cfg.Embedding.Endpoint)
	}
	if cfg.Search.RerankAlpha != 0.4 {
		t.Errorf("Search.RerankAlpha = %f", cfg.Search.RerankAlpha)
	}
}

func TestSave_APIKeyEncryptedOnDisk(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cm.config.Embedding.APIKey = "my-secret-emb-key"
	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw := string(data)

	if strings.Contains(raw, "my-secret-emb-key") {
		t.Error("embedding API key found in plaintext on disk")
	}
	if !strings.Contains(raw, encryptedPrefix) {
		t.Error("encrypted prefix not found in file")
	}
}

func TestUpdate_AppliesAndPersists(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	updates := map[string]interface{}{
		"embedding.endpoint":   "https://new-api.example.com",
		"embedding.api_key":    "new-key",
		"embedding.model_name": "text-embed-v2",
		"embedding.dimension":  1024,
		"search.default_limit": 20,
		"indexing.debounce_ms": 2000,
	}
	if err := cm.Update(updates); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cfg := cm.Get()
	if cfg.Embedding.Endpoint != "https://new-api.example.com" {
		t.Errorf("Embedding.Endpoint = %q", cfg.Embedding.Endpoint)
	}
	if cfg.Embedding.ModelName != "text-embed-v2" {
		t.Errorf("Embedding.ModelName = %q", cfg.Embedding.ModelName)
	}
	if cfg.Embedding.Dimension != 1024 {
		t.Errorf("Dimension = %d", cfg.Embedding.Dimension)
	}
	if cfg.Search.DefaultLimit != 20 {
		t.Errorf("DefaultLimit = %d", cfg.Search.DefaultLimit)
	}
	if cfg.Indexing.DebounceMS != 2000 {
		t.Errorf("DebounceMS = %d", cfg.Indexing.DebounceMS)
	}

	cm2, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg2 := cm2.Get()
	if cfg2.Embedding.Endpoint != "https://new-api.example.com" {
		t.Errorf("persisted Embedding.Endpoint = %q", cfg2.Embedding.Endpoint)
	}
	if cfg2.Embedding.APIKey != "new-key" {
		t.Errorf("persisted Embedding.APIKey = %q", cfg2.Embedding.APIKey)
	}
}

func TestUpdate_RejectsOutOfRangeValues(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cm.Update(map[string]interface{}{"search.rerank_alpha": 1.5}); err == nil {
		t.Fatal("expected error for rerank_alpha out of range")
	}
	if err := cm.Update(map[string]interface{}{"server.port": 70000}); err == nil {
		t.Fatal("expected error for port out of range")
	}
}

func TestUpdate_UnknownKey(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := cm.Update(map[string]interface{}{"unknown.key": "value"})
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg1 := cm.Get()
	cfg1.Embedding.Endpoint = "modified"

	cfg2 := cm.Get()
	if cfg2.Embedding.Endpoint == "modified" {
		t.Error("Get did not return a copy — mutation leaked")
	}
}

func TestLoad_PlaintextAPIKey(t *testing.T) {
	// Simulate a manually edited config with plaintext API key
	path := tempConfigPath(t)
	raw := map[string]interface{}{
		"embedding": map[string]interface{}{
			"api_key": "plaintext-key",
		},
	}
	data, _ := json.Marshal(raw)
	os.WriteFile(path, data, 0600)

	cm, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := cm.Get()
	if cfg.Embedding.APIKey != "plaintext-key" {
		t.Errorf("APIKey = %q, want plaintext-key", cfg.Embedding.APIKey)
	}
}

func TestEncryptDecrypt_EmptyString(t *testing.T) {
	cm, _ := newTestManager(t)
	encrypted := cm.encryptIfNeeded("")
	if encrypted != "" {
		t.Errorf("encryptIfNeeded empty = %q, want empty", encrypted)
	}
	decrypted, err := cm.decryptIfNeeded("")
	if err != nil {
		t.Fatalf("decryptIfNeeded: %v", err)
	}
	if decrypted != "" {
		t.Errorf("decryptIfNeeded empty = %q, want empty", decrypted)
	}
}

func TestEnvOverride_TakesPrecedenceOverFile(t *testing.T) {
	path := tempConfigPath(t)
	raw := Config{Embedding: EmbeddingConfig{Endpoint: "https://file.example.com"}}
	data, _ := json.Marshal(raw)
	os.WriteFile(path, data, 0600)

	t.Setenv("KITSUNE_EMBEDDING_ENDPOINT", "https://env.example.com")

	cm, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg := cm.Get(); cfg.Embedding.Endpoint != "https://env.example.com" {
		t.Errorf("Embedding.Endpoint = %q, want env override", cfg.Embedding.Endpoint)
	}
}

// TestEncryptDecrypt_RoundTrip verifies that AES-GCM encrypt/decrypt is
// inverse for arbitrary plaintext, the property the teacher's vectorstore
// serialization round-trip test checks for its own payloads.
func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	cm, _ := newTestManager(t)
	f := func(s string) bool {
		enc := cm.encryptIfNeeded(s)
		dec, err := cm.decryptIfNeeded(enc)
		if err != nil {
			return false
		}
		return dec == s
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
