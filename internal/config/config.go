package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/hybridrag/internal/logging"
)

// Backend names accepted by search.backends.
const (
	BackendSemantic = "semantic"
	BackendLexical  = "lexical"
	BackendFuzzy    = "fuzzy"
)

// Config represents the complete hybridrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Access     AccessConfig     `yaml:"access" json:"access"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
}

// StorageConfig selects where the catalog and indices live.
type StorageConfig struct {
	// Backend is "sqlite" (default, embedded) or "postgres" (pgvector + pg_trgm).
	Backend string `yaml:"backend" json:"backend"`

	// DataDir holds the SQLite catalog, the HNSW graph and the ingest lock.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LexicalBackend selects the sqlite-mode lexical index: "sqlite" (FTS5) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	PostgresDSN   string `yaml:"postgres_dsn,omitempty" json:"postgres_dsn,omitempty"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// SearchConfig holds query-time defaults. Every field can be overridden per query.
type SearchConfig struct {
	// RRFK is the RRF smoothing constant k. Larger values flatten the rank curve.
	RRFK int `yaml:"rrf_k" json:"rrf_k"`

	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	// CandidateLimit is how many rows each backend returns before fusion.
	// Independent of the result limit; fusion reorders, so over-fetch.
	CandidateLimit int `yaml:"candidate_limit" json:"candidate_limit"`

	FuzzyThreshold float64       `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
	BackendTimeout time.Duration `yaml:"backend_timeout" json:"backend_timeout"`

	// DisplayChars truncates rendered content. 0 disables truncation.
	DisplayChars int `yaml:"display_chars" json:"display_chars"`

	// Backends are queried when a request does not name any.
	Backends []string `yaml:"backends" json:"backends"`

	MaxQueryChars int `yaml:"max_query_chars" json:"max_query_chars"`

	// Rerank reorders fused results by embedding similarity to the query.
	// Off keeps the RRF order.
	Rerank bool `yaml:"rerank" json:"rerank"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "openai", "static", or empty for auto-detection
	// (Ollama if reachable, otherwise static).
	Provider      string `yaml:"provider" json:"provider"`
	Model         string `yaml:"model" json:"model"`
	FallbackModel string `yaml:"fallback_model,omitempty" json:"fallback_model,omitempty"`
	Endpoint      string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKey        string `yaml:"api_key,omitempty" json:"-"`

	// Dimensions is D. 0 takes the provider's native size.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// MaxInputChars truncates text before it is sent to the provider.
	MaxInputChars int `yaml:"max_input_chars" json:"max_input_chars"`

	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`

	// CacheSize is the LRU size for query-mode embeddings. 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IngestConfig parameterizes the ingestion pipeline.
type IngestConfig struct {
	BatchSize       int `yaml:"batch_size" json:"batch_size"`
	Workers         int `yaml:"workers" json:"workers"`
	RetryBudget     int `yaml:"retry_budget" json:"retry_budget"`
	MaxContentChars int `yaml:"max_content_chars" json:"max_content_chars"`
}

// AccessConfig defines the closed persona set and its entitlements.
type AccessConfig struct {
	Personas   []string            `yaml:"personas" json:"personas"`
	Privileged []string            `yaml:"privileged" json:"privileged"`
	Inherits   map[string][]string `yaml:"inherits" json:"inherits"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	// Transport is "stdio" (MCP) or "http".
	Transport   string `yaml:"transport" json:"transport"`
	HTTPAddr    string `yaml:"http_addr" json:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Backend:        "sqlite",
			DataDir:        DefaultDataDir(),
			LexicalBackend: "sqlite",
			SQLiteCacheMB:  64,
		},
		Search: SearchConfig{
			RRFK:           60,
			DefaultLimit:   10,
			MaxLimit:       100,
			CandidateLimit: 20,
			FuzzyThreshold: 0.1,
			BackendTimeout: 5 * time.Second,
			DisplayChars:   200,
			Backends:       []string{BackendSemantic, BackendLexical, BackendFuzzy},
			MaxQueryChars:  1000,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "",
			Model:             "nomic-embed-text",
			Dimensions:        0,
			MaxInputChars:     2000,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
			CacheSize:         1000,
		},
		Ingest: IngestConfig{
			BatchSize:       1000,
			Workers:         8,
			RetryBudget:     3,
			MaxContentChars: 5000,
		},
		Access: AccessConfig{
			Personas:   []string{"customer", "support_agent", "product_manager"},
			Privileged: []string{"product_manager"},
			Inherits: map[string][]string{
				"support_agent": {"customer"},
			},
		},
		Server: ServerConfig{
			Transport: "stdio",
			HTTPAddr:  ":8080",
		},
		Logging: logging.DefaultConfig(),
	}
}

// DefaultDataDir returns ~/.hybridrag/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hybridrag", "data")
	}
	return filepath.Join(home, ".hybridrag", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/hybridrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/hybridrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hybridrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "hybridrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "hybridrag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig returns nil, nil when there is no user config.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load loads configuration for the given directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/hybridrag/config.yaml)
//  3. Project config (.hybridrag.yaml in dir)
//  4. Environment variables (HYBRIDRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile merges .hybridrag.yaml (or .yml) from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".hybridrag.yaml", ".hybridrag.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Storage
	setString(&c.Storage.Backend, other.Storage.Backend)
	setString(&c.Storage.DataDir, other.Storage.DataDir)
	setString(&c.Storage.LexicalBackend, other.Storage.LexicalBackend)
	setString(&c.Storage.PostgresDSN, other.Storage.PostgresDSN)
	setInt(&c.Storage.SQLiteCacheMB, other.Storage.SQLiteCacheMB)

	// Search
	setInt(&c.Search.RRFK, other.Search.RRFK)
	setInt(&c.Search.DefaultLimit, other.Search.DefaultLimit)
	setInt(&c.Search.MaxLimit, other.Search.MaxLimit)
	setInt(&c.Search.CandidateLimit, other.Search.CandidateLimit)
	if other.Search.FuzzyThreshold != 0 {
		c.Search.FuzzyThreshold = other.Search.FuzzyThreshold
	}
	if other.Search.BackendTimeout != 0 {
		c.Search.BackendTimeout = other.Search.BackendTimeout
	}
	setInt(&c.Search.DisplayChars, other.Search.DisplayChars)
	if len(other.Search.Backends) > 0 {
		c.Search.Backends = other.Search.Backends
	}
	setInt(&c.Search.MaxQueryChars, other.Search.MaxQueryChars)
	if other.Search.Rerank {
		c.Search.Rerank = true
	}

	// Embeddings
	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setString(&c.Embeddings.FallbackModel, other.Embeddings.FallbackModel)
	setString(&c.Embeddings.Endpoint, other.Embeddings.Endpoint)
	setString(&c.Embeddings.APIKey, other.Embeddings.APIKey)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setInt(&c.Embeddings.MaxInputChars, other.Embeddings.MaxInputChars)
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.RequestsPerSecond != 0 {
		c.Embeddings.RequestsPerSecond = other.Embeddings.RequestsPerSecond
	}
	setInt(&c.Embeddings.Burst, other.Embeddings.Burst)
	setInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)

	// Ingest
	setInt(&c.Ingest.BatchSize, other.Ingest.BatchSize)
	setInt(&c.Ingest.Workers, other.Ingest.Workers)
	setInt(&c.Ingest.RetryBudget, other.Ingest.RetryBudget)
	setInt(&c.Ingest.MaxContentChars, other.Ingest.MaxContentChars)

	// Access: a file that names personas owns the whole persona model.
	if len(other.Access.Personas) > 0 {
		c.Access.Personas = other.Access.Personas
		c.Access.Privileged = other.Access.Privileged
		c.Access.Inherits = other.Access.Inherits
	} else {
		if len(other.Access.Privileged) > 0 {
			c.Access.Privileged = other.Access.Privileged
		}
		if other.Access.Inherits != nil {
			c.Access.Inherits = other.Access.Inherits
		}
	}

	// Server
	setString(&c.Server.Transport, other.Server.Transport)
	setString(&c.Server.HTTPAddr, other.Server.HTTPAddr)
	setString(&c.Server.MetricsAddr, other.Server.MetricsAddr)

	// Logging: booleans can't be told apart from "unset", so a logging
	// section that names a level also decides stderr.
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
		c.Logging.WriteToStderr = other.Logging.WriteToStderr
	}
	setString(&c.Logging.FilePath, other.Logging.FilePath)
	setString(&c.Logging.Format, other.Logging.Format)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
	setInt(&c.Logging.MaxAgeDays, other.Logging.MaxAgeDays)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies HYBRIDRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HYBRIDRAG_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("HYBRIDRAG_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("HYBRIDRAG_LEXICAL_BACKEND"); v != "" {
		c.Storage.LexicalBackend = v
	}
	if v := os.Getenv("HYBRIDRAG_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}

	if v := os.Getenv("HYBRIDRAG_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFK = k
		}
	}
	if v := os.Getenv("HYBRIDRAG_FUZZY_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && t >= 0 && t <= 1 {
			c.Search.FuzzyThreshold = t
		}
	}
	if v := os.Getenv("HYBRIDRAG_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Search.BackendTimeout = d
		}
	}
	if v := os.Getenv("HYBRIDRAG_SEARCH_RERANK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.Rerank = b
		}
	}

	if v := os.Getenv("HYBRIDRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("HYBRIDRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("HYBRIDRAG_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("HYBRIDRAG_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = v
	}

	if v := os.Getenv("HYBRIDRAG_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}
	if v := os.Getenv("HYBRIDRAG_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.BatchSize = n
		}
	}

	if v := os.Getenv("HYBRIDRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HYBRIDRAG_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "sqlite":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the sqlite backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'sqlite' or 'postgres', got %s", c.Storage.Backend)
	}
	switch strings.ToLower(c.Storage.LexicalBackend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("storage.lexical_backend must be 'sqlite' or 'bleve', got %s", c.Storage.LexicalBackend)
	}

	s := c.Search
	if s.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %d", s.RRFK)
	}
	if s.MaxLimit <= 0 {
		return fmt.Errorf("search.max_limit must be positive, got %d", s.MaxLimit)
	}
	if s.DefaultLimit <= 0 || s.DefaultLimit > s.MaxLimit {
		return fmt.Errorf("search.default_limit must be between 1 and %d, got %d", s.MaxLimit, s.DefaultLimit)
	}
	if s.CandidateLimit <= 0 {
		return fmt.Errorf("search.candidate_limit must be positive, got %d", s.CandidateLimit)
	}
	if s.FuzzyThreshold < 0 || s.FuzzyThreshold > 1 {
		return fmt.Errorf("search.fuzzy_threshold must be between 0 and 1, got %f", s.FuzzyThreshold)
	}
	if s.BackendTimeout <= 0 {
		return fmt.Errorf("search.backend_timeout must be positive, got %s", s.BackendTimeout)
	}
	if s.DisplayChars < 0 {
		return fmt.Errorf("search.display_chars must be non-negative, got %d", s.DisplayChars)
	}
	if s.MaxQueryChars <= 0 {
		return fmt.Errorf("search.max_query_chars must be positive, got %d", s.MaxQueryChars)
	}
	if len(s.Backends) == 0 {
		return fmt.Errorf("search.backends must name at least one backend")
	}
	for _, b := range s.Backends {
		switch b {
		case BackendSemantic, BackendLexical, BackendFuzzy:
		default:
			return fmt.Errorf("search.backends: unknown backend %q", b)
		}
	}

	e := c.Embeddings
	switch strings.ToLower(e.Provider) {
	case "", "ollama", "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'openai', 'static', or empty (auto-detect), got %s", e.Provider)
	}
	if e.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", e.Dimensions)
	}
	if e.MaxInputChars <= 0 {
		return fmt.Errorf("embeddings.max_input_chars must be positive, got %d", e.MaxInputChars)
	}
	if e.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must be non-negative, got %f", e.RequestsPerSecond)
	}
	if e.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", e.CacheSize)
	}

	in := c.Ingest
	if in.BatchSize < 1 || in.BatchSize > 10000 {
		return fmt.Errorf("ingest.batch_size must be between 1 and 10000, got %d", in.BatchSize)
	}
	if in.Workers < 1 || in.Workers > 64 {
		return fmt.Errorf("ingest.workers must be between 1 and 64, got %d", in.Workers)
	}
	if in.RetryBudget < 0 || in.RetryBudget > 10 {
		return fmt.Errorf("ingest.retry_budget must be between 0 and 10, got %d", in.RetryBudget)
	}
	if in.MaxContentChars <= 0 {
		return fmt.Errorf("ingest.max_content_chars must be positive, got %d", in.MaxContentChars)
	}

	if err := c.Access.validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Server.Transport) {
	case "stdio", "http":
	default:
		return fmt.Errorf("server.transport must be 'stdio' or 'http', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

func (a AccessConfig) validate() error {
	if len(a.Personas) == 0 {
		return fmt.Errorf("access.personas must not be empty")
	}
	known := make(map[string]bool, len(a.Personas))
	for _, p := range a.Personas {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("access.personas contains an empty name")
		}
		if known[p] {
			return fmt.Errorf("access.personas lists %q twice", p)
		}
		known[p] = true
	}
	for _, p := range a.Privileged {
		if !known[p] {
			return fmt.Errorf("access.privileged: unknown persona %q", p)
		}
	}
	for child, parents := range a.Inherits {
		if !known[child] {
			return fmt.Errorf("access.inherits: unknown persona %q", child)
		}
		for _, p := range parents {
			if !known[p] {
				return fmt.Errorf("access.inherits[%s]: unknown persona %q", child, p)
			}
		}
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// JSON returns the config as indented JSON. Secrets are omitted.
func (c *Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// CatalogPath is the SQLite catalog file inside the data dir.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Storage.DataDir, "catalog.db")
}

// VectorPath is the persisted HNSW graph inside the data dir.
func (c *Config) VectorPath() string {
	return filepath.Join(c.Storage.DataDir, "vectors.hnsw")
}

// BlevePath is the Bleve index directory inside the data dir.
func (c *Config) BlevePath() string {
	return filepath.Join(c.Storage.DataDir, "lexical.bleve")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
