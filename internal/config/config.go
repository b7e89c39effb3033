// Package config loads the Engine's persistent configuration, using the
// same layered precedence the teacher used for its own config (defaults
// -> user YAML -> project YAML -> environment variables), generalized from
// project/repo tuning to spec.md §6's Engine config table.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete Engine configuration (spec.md §6).
type Config struct {
	Version int `yaml:"version" json:"version"`

	// IndexingParallelism bounds concurrent file extraction within a
	// batch (spec.md §4.5 step 3). Default min(16, NumCPU).
	IndexingParallelism int `yaml:"indexing_parallelism" json:"indexing_parallelism"`

	// IndexingBatchSize is how many discovered paths are grouped before
	// a single UpsertRecords transaction (spec.md §4.5 step 5).
	IndexingBatchSize int `yaml:"indexing_batch_size" json:"indexing_batch_size"`

	// EmbeddingParallelism bounds concurrent embedding calls per batch.
	EmbeddingParallelism int `yaml:"embedding_parallelism" json:"embedding_parallelism"`

	// EmbeddingProvider selects the text embedder: "ollama" or "hash".
	EmbeddingProvider string `yaml:"embedding_provider" json:"embedding_provider"`

	// EmbeddingEndpoint is the Ollama-compatible HTTP endpoint used when
	// EmbeddingProvider is "ollama" (default http://localhost:11434).
	EmbeddingEndpoint string `yaml:"embedding_endpoint" json:"embedding_endpoint"`

	// AutoTag enables the Indexer's AI tag-suggestion stage.
	AutoTag bool `yaml:"auto_tag" json:"auto_tag"`

	// HybridWeights are the Searcher's default semantic/text fusion
	// weights (spec.md §4.8(c)); must sum to 1.0.
	HybridWeights WeightsConfig `yaml:"hybrid_weights" json:"hybrid_weights"`

	// WatchDebounceMS is the Watcher's coalescing window in milliseconds
	// (spec.md §4.6, default 500).
	WatchDebounceMS int `yaml:"watch_debounce_ms" json:"watch_debounce_ms"`

	// SchedulerTickS is how often the Scheduler checks sources, in
	// seconds (spec.md §4.7, default 300).
	SchedulerTickS int `yaml:"scheduler_tick_s" json:"scheduler_tick_s"`

	// SourceSyncIntervalS is how long a Source may go unrefreshed before
	// the Scheduler enqueues a refresh job, in seconds (default 3600).
	SourceSyncIntervalS int `yaml:"source_sync_interval_s" json:"source_sync_interval_s"`

	// ThumbnailPX is the square thumbnail dimension the Thumbnail Cache
	// generates (spec.md §4.9, default 256).
	ThumbnailPX int `yaml:"thumbnail_px" json:"thumbnail_px"`

	// SkipPatterns are gitignore-syntax patterns the Scanner and Watcher
	// both honor, so discovery and live updates agree on what a Source
	// excludes (internal/ignore.Matcher).
	SkipPatterns []string `yaml:"skip_patterns" json:"skip_patterns"`
}

// WeightsConfig is the (semantic, text) fusion weight pair.
type WeightsConfig struct {
	Semantic float64 `yaml:"semantic" json:"semantic"`
	Text     float64 `yaml:"text" json:"text"`
}

// defaultSkipPatterns are always excluded from discovery.
var defaultSkipPatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/.DS_Store",
	"**/*.tmp",
}

// NewConfig returns a Config with spec.md §6's documented defaults.
func NewConfig() *Config {
	return &Config{
		Version:              1,
		IndexingParallelism:  min(16, runtime.NumCPU()),
		IndexingBatchSize:    200,
		EmbeddingParallelism: 4,
		EmbeddingProvider:    "hash",
		EmbeddingEndpoint:    "http://localhost:11434",
		AutoTag:              true,
		HybridWeights:        WeightsConfig{Semantic: 0.7, Text: 0.3},
		WatchDebounceMS:      500,
		SchedulerTickS:       300,
		SourceSyncIntervalS:  3600,
		ThumbnailPX:          256,
		SkipPatterns:         append([]string{}, defaultSkipPatterns...),
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// GetUserConfigPath returns the user/global configuration file path,
// following the XDG Base Directory spec:
//   - $XDG_CONFIG_HOME/engine/config.yaml (if set)
//   - ~/.config/engine/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "engine", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "engine", "config.yaml")
	}
	return filepath.Join(home, ".config", "engine", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user config file.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds a Config from, in increasing order of precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/engine/config.yaml)
//  3. Per-data-dir config (engine.yaml in dir)
//  4. Environment variables (ENGINE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
		cfg.AutoTag = userCfg.AutoTag
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

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"engine.yaml", "engine.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	// mergeWith skips zero values, so an explicit "auto_tag: false" is
	// only visible by checking whether the key is present.
	var keys map[string]interface{}
	if err := yaml.Unmarshal(data, &keys); err == nil {
		if _, ok := keys["auto_tag"]; ok {
			c.AutoTag = parsed.AutoTag
		}
	}
	return nil
}

// mergeWith merges other's non-zero fields into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.IndexingParallelism != 0 {
		c.IndexingParallelism = other.IndexingParallelism
	}
	if other.IndexingBatchSize != 0 {
		c.IndexingBatchSize = other.IndexingBatchSize
	}
	if other.EmbeddingParallelism != 0 {
		c.EmbeddingParallelism = other.EmbeddingParallelism
	}
	if other.EmbeddingProvider != "" {
		c.EmbeddingProvider = other.EmbeddingProvider
	}
	if other.EmbeddingEndpoint != "" {
		c.EmbeddingEndpoint = other.EmbeddingEndpoint
	}
	if other.HybridWeights.Semantic != 0 {
		c.HybridWeights.Semantic = other.HybridWeights.Semantic
	}
	if other.HybridWeights.Text != 0 {
		c.HybridWeights.Text = other.HybridWeights.Text
	}
	if other.WatchDebounceMS != 0 {
		c.WatchDebounceMS = other.WatchDebounceMS
	}
	if other.SchedulerTickS != 0 {
		c.SchedulerTickS = other.SchedulerTickS
	}
	if other.SourceSyncIntervalS != 0 {
		c.SourceSyncIntervalS = other.SourceSyncIntervalS
	}
	if other.ThumbnailPX != 0 {
		c.ThumbnailPX = other.ThumbnailPX
	}
	if len(other.SkipPatterns) > 0 {
		c.SkipPatterns = append(c.SkipPatterns, other.SkipPatterns...)
	}
}

// applyEnvOverrides applies ENGINE_* environment variable overrides,
// highest precedence (spec.md §6).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENGINE_EMBEDDING_PROVIDER"); v != "" {
		c.EmbeddingProvider = v
	}
	if v := os.Getenv("ENGINE_EMBEDDING_ENDPOINT"); v != "" {
		c.EmbeddingEndpoint = v
	}
	if v := os.Getenv("ENGINE_AUTO_TAG"); v != "" {
		c.AutoTag = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("ENGINE_HYBRID_WEIGHT_SEMANTIC"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.HybridWeights.Semantic = w
		}
	}
	if v := os.Getenv("ENGINE_HYBRID_WEIGHT_TEXT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.HybridWeights.Text = w
		}
	}
	if v := os.Getenv("ENGINE_WATCH_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WatchDebounceMS = n
		}
	}
	if v := os.Getenv("ENGINE_SCHEDULER_TICK_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SchedulerTickS = n
		}
	}
	if v := os.Getenv("ENGINE_SOURCE_SYNC_INTERVAL_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SourceSyncIntervalS = n
		}
	}
}

// Validate checks the configuration's invariants.
func (c *Config) Validate() error {
	if c.HybridWeights.Semantic < 0 || c.HybridWeights.Semantic > 1 {
		return fmt.Errorf("hybrid_weights.semantic must be between 0 and 1, got %f", c.HybridWeights.Semantic)
	}
	if c.HybridWeights.Text < 0 || c.HybridWeights.Text > 1 {
		return fmt.Errorf("hybrid_weights.text must be between 0 and 1, got %f", c.HybridWeights.Text)
	}
	sum := c.HybridWeights.Semantic + c.HybridWeights.Text
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("hybrid_weights.semantic + hybrid_weights.text must equal 1.0, got %.2f", sum)
	}
	if c.IndexingBatchSize < 0 {
		return fmt.Errorf("indexing_batch_size must be non-negative, got %d", c.IndexingBatchSize)
	}
	if c.ThumbnailPX <= 0 {
		return fmt.Errorf("thumbnail_px must be positive, got %d", c.ThumbnailPX)
	}
	validProviders := map[string]bool{"ollama": true, "hash": true}
	if !validProviders[strings.ToLower(c.EmbeddingProvider)] {
		return fmt.Errorf("embedding_provider must be 'ollama' or 'hash', got %s", c.EmbeddingProvider)
	}
	return nil
}

// MergeNewDefaults fills in zero-valued fields on an older, persisted
// Config with the current defaults, so upgrading the binary doesn't
// silently leave new knobs at Go's zero value. Returns the dotted field
// names it filled in.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.IndexingParallelism == 0 {
		c.IndexingParallelism = defaults.IndexingParallelism
		added = append(added, "indexing_parallelism")
	}
	if c.IndexingBatchSize == 0 {
		c.IndexingBatchSize = defaults.IndexingBatchSize
		added = append(added, "indexing_batch_size")
	}
	if c.EmbeddingParallelism == 0 {
		c.EmbeddingParallelism = defaults.EmbeddingParallelism
		added = append(added, "embedding_parallelism")
	}
	if c.HybridWeights.Semantic == 0 && c.HybridWeights.Text == 0 {
		c.HybridWeights = defaults.HybridWeights
		added = append(added, "hybrid_weights")
	}
	if c.WatchDebounceMS == 0 {
		c.WatchDebounceMS = defaults.WatchDebounceMS
		added = append(added, "watch_debounce_ms")
	}
	if c.SchedulerTickS == 0 {
		c.SchedulerTickS = defaults.SchedulerTickS
		added = append(added, "scheduler_tick_s")
	}
	if c.SourceSyncIntervalS == 0 {
		c.SourceSyncIntervalS = defaults.SourceSyncIntervalS
		added = append(added, "source_sync_interval_s")
	}
	if c.ThumbnailPX == 0 {
		c.ThumbnailPX = defaults.ThumbnailPX
		added = append(added, "thumbnail_px")
	}
	if len(c.SkipPatterns) == 0 {
		c.SkipPatterns = defaults.SkipPatterns
		added = append(added, "skip_patterns")
	}
	return added
}

// WriteYAML writes c to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
