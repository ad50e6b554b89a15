package config

import (
	"fmt"
)

// Validate rejects configs that would make components misbehave at startup.
// It is also wired into Manager.Watch so live edits get the same treatment.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Queue.MaxConcurrent < 0 {
		return fmt.Errorf("queue.max_concurrent: must be >= 0")
	}
	if _, err := ParseDurationField("queue.poll_interval", cfg.Queue.PollInterval); err != nil {
		return err
	}
	for name, ns := range cfg.Cache.Namespaces {
		if ns.MemorySize < 0 {
			return fmt.Errorf("cache.namespaces.%s.memory_size: must be >= 0", name)
		}
		if _, err := ParseDurationField("cache.namespaces."+name+".default_ttl", ns.DefaultTTL); err != nil {
			return err
		}
	}
	if _, err := ParseDurationField("history.retention", cfg.History.Retention); err != nil {
		return err
	}
	return nil
}
