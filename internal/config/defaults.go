package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 50
	}
	if cfg.Search.Metric == "" {
		cfg.Search.Metric = "cosine"
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = 256
	}
	if cfg.Pipeline.TombstoneRetention == 0 {
		cfg.Pipeline.TombstoneRetention = Duration(time.Hour)
	}
	if cfg.Pipeline.CompactInterval == 0 {
		cfg.Pipeline.CompactInterval = Duration(10 * time.Minute)
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "gpt-4o-mini"
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Type == "poll" && cfg.Sources[i].PollInterval == 0 {
			cfg.Sources[i].PollInterval = Duration(30 * time.Second)
		}
	}
}
