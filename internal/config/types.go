package config

// Config is the full on-disk configuration. Fields use Go duration strings
// where a duration is meant (e.g. "200ms", "24h").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Queue       QueueConfig       `json:"queue"`
	Cache       CacheConfig       `json:"cache"`
	History     HistoryConfig     `json:"history"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Runner      RunnerConfig      `json:"runner"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file"`
}

// QueueConfig mirrors queue.Config.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 2
//   - poll_interval: "200ms"
//   - progress_per_sec: 4
type QueueConfig struct {
	MaxConcurrent  int    `json:"max_concurrent,omitempty"`
	AutoStart      bool   `json:"auto_start"`
	PollInterval   string `json:"poll_interval,omitempty"`
	ProgressPerSec int    `json:"progress_per_sec,omitempty"`
}

// CacheConfig declares the shared database file plus one block per namespace.
type CacheConfig struct {
	Path       string                     `json:"path,omitempty"`
	Namespaces map[string]NamespaceConfig `json:"namespaces,omitempty"`
}

type NamespaceConfig struct {
	MemorySize int    `json:"memory_size,omitempty"`
	DefaultTTL string `json:"default_ttl,omitempty"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
	// Retention drops records older than this during maintenance passes.
	Retention string `json:"retention,omitempty"`
}

type MaintenanceConfig struct {
	// Spec is a cron expression; empty means "@hourly".
	Spec string `json:"spec,omitempty"`
}

// RunnerConfig describes the external downloader subprocess. Args may contain
// the placeholders {{url}}, {{output_dir}} and {{format}}.
type RunnerConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// Default returns a config with every field at its documented default.
func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "info"
	cfg.Logging.Console = true
	cfg.Queue.MaxConcurrent = 2
	cfg.Queue.AutoStart = true
	cfg.Cache.Path = "./data/cache.db"
	cfg.Cache.Namespaces = map[string]NamespaceConfig{
		"video_info": {MemorySize: 50, DefaultTTL: "24h"},
		"format":     {MemorySize: 100, DefaultTTL: "6h"},
		"version":    {MemorySize: 10, DefaultTTL: "1h"},
	}
	cfg.History.Enabled = true
	cfg.History.Path = "./data/history.db"
	cfg.History.Retention = "2160h" // 90 days
	cfg.Runner.Command = "yt-dlp"
	cfg.Runner.Args = []string{"-o", "{{output_dir}}/%(title)s.%(ext)s", "-f", "{{format}}", "{{url}}"}
	return cfg
}
