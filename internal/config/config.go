// Package config provides configuration management with encrypted API key storage.
// It supports loading, saving, and hot-reloading of system configuration.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// encryptionKeyEnvVar is the environment variable name for the AES encryption key.
const encryptionKeyEnvVar = "KITSUNE_ENCRYPTION_KEY"

// encryptedPrefix marks a value as AES-encrypted in the config file.
const encryptedPrefix = "enc:"

// Config holds all system configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Embedding EmbeddingConfig `json:"embedding"`
	Indexing  IndexingConfig  `json:"indexing"`
	Search    SearchConfig    `json:"search"`
	Storage   StorageConfig   `json:"storage"`
}

// ServerConfig holds the sidecar HTTP server configuration.
type ServerConfig struct {
	Bind string `json:"bind"` // bind address (e.g., "0.0.0.0", "127.0.0.1")
	Port int    `json:"port"`
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	Provider  string `json:"provider"` // e.g. "openai-compatible"
	Endpoint  string `json:"endpoint"`
	APIKey    string `json:"api_key"`
	ModelName string `json:"model_name"`
	Dimension int    `json:"dimension"`
}

// IndexingConfig holds container indexer (C6) configuration.
type IndexingConfig struct {
	DebounceMS     int `json:"debounce_ms"`
	WorkerPoolSize int `json:"worker_pool_size"`
}

// SearchConfig holds query pipeline (C5) configuration.
type SearchConfig struct {
	DefaultLimit  int     `json:"default_limit"`
	DefaultRadius int     `json:"default_radius"`
	RerankAlpha   float64 `json:"rerank_alpha"` // weight given to semantic score vs keyword score, 0..1
}

// StorageConfig holds C1/C2 storage backend configuration.
type StorageConfig struct {
	Backend   string `json:"backend"` // currently only "hybrid-local"
	DBPath    string `json:"db_path"`
	GraphPath string `json:"graph_path"`
}

// ConfigManager manages loading, saving, and updating configuration.
type ConfigManager struct {
	configPath    string
	config        *Config
	mu            sync.RWMutex
	encryptionKey []byte // 32-byte AES-256 key
}

// NewConfigManager creates a new ConfigManager for the given config file path.
// The AES encryption key is read from the KITSUNE_ENCRYPTION_KEY environment
// variable. If unset, a key is loaded from (or generated into) a key file
// under the data directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	key, err := getOrCreateEncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("encryption key error: %w", err)
	}
	return &ConfigManager{
		configPath:    configPath,
		encryptionKey: key,
	}, nil
}

// NewConfigManagerWithKey creates a ConfigManager with an explicit encryption key (for testing).
func NewConfigManagerWithKey(configPath string, key []byte) (*ConfigManager, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes for AES-256")
	}
	return &ConfigManager{
		configPath:    configPath,
		encryptionKey: key,
	}, nil
}

// DefaultConfig returns a Config populated with default values.
// The embedding API key is intentionally left empty — it must be configured
// after installation.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 8787,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai-compatible",
			Endpoint:  "",
			APIKey:    "",
			ModelName: "",
			Dimension: 768,
		},
		Indexing: IndexingConfig{
			DebounceMS:     1500,
			WorkerPoolSize: 4,
		},
		Search: SearchConfig{
			DefaultLimit:  10,
			DefaultRadius: 32,
			RerankAlpha:   0.7,
		},
		Storage: StorageConfig{
			Backend:   "hybrid-local",
			DBPath:    "./data/kitsune.db",
			GraphPath: "./data/kitsune.graph",
		},
	}
}

// Load reads the config file from disk and decrypts the embedding API key.
// If the file does not exist, it initializes with default values and saves.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cm.config = DefaultConfig()
			return cm.saveLocked()
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if cfg.Embedding.APIKey, err = cm.decryptIfNeeded(cfg.Embedding.APIKey); err != nil {
		return fmt.Errorf("decrypt embedding API key: %w", err)
	}

	cm.applyEnvOverrides(&cfg)
	cm.applyDefaults(&cfg)
	cm.config = &cfg
	return nil
}

// applyEnvOverrides lets environment variables take precedence over the
// JSON file for the fields most commonly injected by a process supervisor.
func (cm *ConfigManager) applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITSUNE_EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("KITSUNE_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("KITSUNE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
}

// Save writes the current config to disk with the embedding API key encrypted.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.saveLocked()
}

// saveLocked writes config to disk. Caller must hold at least a read lock.
func (cm *ConfigManager) saveLocked() error {
	if cm.config == nil {
		return errors.New("no config loaded")
	}

	out := *cm.config
	out.Embedding.APIKey = cm.encryptIfNeeded(cm.config.Embedding.APIKey)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.config == nil {
		return nil
	}
	c := *cm.config
	return &c
}

// IsReady returns true if the embedding API key is configured (non-empty).
func (cm *ConfigManager) IsReady() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.config == nil {
		return false
	}
	return strings.TrimSpace(cm.config.Embedding.APIKey) != ""
}

// Update applies partial updates to the configuration and saves to disk.
// Supported keys: "server.bind", "server.port", "embedding.provider", "embedding.endpoint",
// "embedding.api_key", "embedding.model_name", "embedding.dimension",
// "indexing.debounce_ms", "indexing.worker_pool_size", "search.default_limit",
// "search.default_radius", "search.rerank_alpha", "storage.db_path",
// "storage.graph_path".
func (cm *ConfigManager) Update(updates map[string]interface{}) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config == nil {
		cm.config = DefaultConfig()
	}

	if len(updates) > 100 {
		return fmt.Errorf("too many config updates (max 100 keys per request)")
	}

	for key, val := range updates {
		if err := cm.applyUpdate(key, val); err != nil {
			return fmt.Errorf("update key %q: %w", key, err)
		}
	}

	return cm.saveLocked()
}

func (cm *ConfigManager) applyUpdate(key string, val interface{}) error {
	switch key {
	case "server.bind":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Server.Bind = s
	case "server.port":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		if n < 1 || n > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cm.config.Server.Port = n

	case "embedding.provider":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Embedding.Provider = s
	case "embedding.endpoint":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Embedding.Endpoint = s
	case "embedding.api_key":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Embedding.APIKey = s
	case "embedding.model_name":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Embedding.ModelName = s
	case "embedding.dimension":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		if n < 1 || n > 8192 {
			return errors.New("dimension must be between 1 and 8192")
		}
		cm.config.Embedding.Dimension = n

	case "indexing.debounce_ms":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		if n < 0 || n > 60000 {
			return errors.New("debounce_ms must be between 0 and 60000")
		}
		cm.config.Indexing.DebounceMS = n
	case "indexing.worker_pool_size":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		if n < 1 || n > 64 {
			return errors.New("worker_pool_size must be between 1 and 64")
		}
		cm.config.Indexing.WorkerPoolSize = n

	case "search.default_limit":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		if n < 1 || n > 100 {
			return errors.New("default_limit must be between 1 and 100")
		}
		cm.config.Search.DefaultLimit = n
	case "search.default_radius":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		if n < 0 {
			return errors.New("default_radius must be non-negative")
		}
		cm.config.Search.DefaultRadius = n
	case "search.rerank_alpha":
		f, err := toFloat64(val)
		if err != nil {
			return err
		}
		if f < 0 || f > 1.0 {
			return errors.New("rerank_alpha must be between 0 and 1.0")
		}
		cm.config.Search.RerankAlpha = f

	case "storage.db_path":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		if strings.Contains(s, "..") {
			return errors.New("db_path must not contain '..'")
		}
		cm.config.Storage.DBPath = s
	case "storage.graph_path":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		if strings.Contains(s, "..") {
			return errors.New("graph_path must not contain '..'")
		}
		cm.config.Storage.GraphPath = s

	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// applyDefaults fills in zero-value fields with defaults.
func (cm *ConfigManager) applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = defaults.Server.Bind
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = defaults.Embedding.Dimension
	}
	if cfg.Indexing.DebounceMS == 0 {
		cfg.Indexing.DebounceMS = defaults.Indexing.DebounceMS
	}
	if cfg.Indexing.WorkerPoolSize == 0 {
		cfg.Indexing.WorkerPoolSize = defaults.Indexing.WorkerPoolSize
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = defaults.Search.DefaultLimit
	}
	if cfg.Search.DefaultRadius == 0 {
		cfg.Search.DefaultRadius = defaults.Search.DefaultRadius
	}
	if cfg.Search.RerankAlpha == 0 {
		cfg.Search.RerankAlpha = defaults.Search.RerankAlpha
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = defaults.Storage.DBPath
	}
	if cfg.Storage.GraphPath == "" {
		cfg.Storage.GraphPath = defaults.Storage.GraphPath
	}
}

// --- AES-GCM encryption helpers ---

// encrypt encrypts plaintext using AES-256-GCM.
func (cm *ConfigManager) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(cm.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// decrypt decrypts AES-256-GCM encrypted hex string.
func (cm *ConfigManager) decrypt(ciphertextHex string) (string, error) {
	if ciphertextHex == "" {
		return "", nil
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("hex decode: %w", err)
	}
	block, err := aes.NewCipher(cm.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// encryptIfNeeded encrypts a value and adds the "enc:" prefix.
// Empty strings are returned as-is.
func (cm *ConfigManager) encryptIfNeeded(value string) string {
	if value == "" {
		return ""
	}
	encrypted, err := cm.encrypt(value)
	if err != nil {
		return value
	}
	return encryptedPrefix + encrypted
}

// decryptIfNeeded decrypts a value if it has the "enc:" prefix.
func (cm *ConfigManager) decryptIfNeeded(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if len(value) > len(encryptedPrefix) && value[:len(encryptedPrefix)] == encryptedPrefix {
		return cm.decrypt(value[len(encryptedPrefix):])
	}
	// Not encrypted (e.g., manually edited config) — return as-is
	return value, nil
}

// --- Encryption key management ---

func getOrCreateEncryptionKey() ([]byte, error) {
	// 1. Check environment variable first (preferred for production)
	keyHex := os.Getenv(encryptionKeyEnvVar)
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
		}
		return key, nil
	}

	// 2. Try to read from persistent key file
	keyFile := "./data/encryption.key"
	if data, err := os.ReadFile(keyFile); err == nil {
		keyHex = strings.TrimSpace(string(data))
		if key, err := hex.DecodeString(keyHex); err == nil && len(key) == 32 {
			os.Chmod(keyFile, 0600)
			return key, nil
		}
		fmt.Println("Warning: encryption.key file is invalid, regenerating")
	}

	// 3. Generate a new random key and persist it
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	keyHex = hex.EncodeToString(key)
	os.MkdirAll("./data", 0700)
	if err := os.WriteFile(keyFile, []byte(keyHex+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("save encryption key: %w", err)
	}
	return key, nil
}

// --- Type conversion helpers ---

func toFloat64(val interface{}) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", val)
	}
}

func toInt(val interface{}) (int, error) {
	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", val)
	}
}
