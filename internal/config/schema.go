package config

// Config holds infracc configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Pipeline PipelineCfg `mapstructure:"pipeline" yaml:"pipeline"`
	Cache    CacheCfg    `mapstructure:"cache" yaml:"cache"`
	Store    StoreCfg    `mapstructure:"store" yaml:"store"`
}

// PipelineCfg tunes stage sequencing and batch processing.
type PipelineCfg struct {
	// CheckpointIntervalSeconds is how often progress checkpoints are
	// written while a stage is running.
	CheckpointIntervalSeconds int `mapstructure:"checkpoint_interval_seconds" yaml:"checkpoint_interval_seconds"`

	// TransformChunkSize bounds chunks for pure transformation loops
	// (id extraction, filtering). These are fast, so chunks are large.
	TransformChunkSize int `mapstructure:"transform_chunk_size" yaml:"transform_chunk_size"`

	// ServiceChunkSize bounds chunks for operations that call into
	// external services, limiting concurrent in-flight calls.
	ServiceChunkSize int `mapstructure:"service_chunk_size" yaml:"service_chunk_size"`
}

// CacheCfg tunes the stage output cache.
type CacheCfg struct {
	// MaxPutAttempts is the write-then-verify retry bound.
	MaxPutAttempts int `mapstructure:"max_put_attempts" yaml:"max_put_attempts"`

	// MemoryPressure forces lightweight (stripped) reads when true.
	MemoryPressure bool `mapstructure:"memory_pressure" yaml:"memory_pressure"`

	// StripThresholds maps a stage id to the array length above which
	// its oversized collection is stripped before persisting. Stages
	// not listed fall back to DefaultStripThreshold.
	StripThresholds map[string]int `mapstructure:"strip_thresholds" yaml:"strip_thresholds"`

	// DefaultStripThreshold applies to stages without an explicit entry.
	DefaultStripThreshold int `mapstructure:"default_strip_threshold" yaml:"default_strip_threshold"`
}

// StoreCfg tunes the durable record store.
type StoreCfg struct {
	// QuotaBytes caps the file store's total size (0 = unlimited).
	// Writes over the cap fail with a quota error and trigger forced
	// stripping in the cache layer.
	QuotaBytes int64 `mapstructure:"quota_bytes" yaml:"quota_bytes"`
}

// DefaultConfig returns configuration with sensible defaults.
// The numeric choices are tuning defaults, not load-bearing semantics.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineCfg{
			CheckpointIntervalSeconds: 5,
			TransformChunkSize:        10000,
			ServiceChunkSize:          500,
		},
		Cache: CacheCfg{
			MaxPutAttempts: 3,
			StripThresholds: map[string]int{
				"discovery":  10000,
				"assessment": 10000,
				"strategy":   10000,
				"cost":       50000,
			},
			DefaultStripThreshold: 10000,
		},
		Store: StoreCfg{
			QuotaBytes: 0,
		},
	}
}

// StripThreshold returns the stripping threshold for a stage id.
func (c *Config) StripThreshold(stageID string) int {
	if t, ok := c.Cache.StripThresholds[stageID]; ok && t > 0 {
		return t
	}
	if c.Cache.DefaultStripThreshold > 0 {
		return c.Cache.DefaultStripThreshold
	}
	return DefaultConfig().Cache.DefaultStripThreshold
}
