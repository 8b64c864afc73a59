package beacon

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML shape of a beacon configuration file.
// Environment variables in the file are expanded before parsing.
type FileConfig struct {
	Endpoint          string         `yaml:"endpoint"`
	APIKey            string         `yaml:"api_key"`
	APIKeyHeader      string         `yaml:"api_key_header"`
	SamplingRate      *float64       `yaml:"sampling_rate"`
	ErrorSamplingRate *float64       `yaml:"error_sampling_rate"`
	FlushInterval     string         `yaml:"flush_interval"`
	MaxQueueSize      int            `yaml:"max_queue_size"`
	FlushThreshold    int            `yaml:"flush_threshold"`
	ExcludedRoutes    []string       `yaml:"excluded_routes"`
	Tags              []Tag          `yaml:"tags"`
	GlobalMetadata    map[string]any `yaml:"global_metadata"`
	Debug             bool           `yaml:"debug"`
	Sync              bool           `yaml:"sync"`
}

// LoadConfig reads a YAML configuration file into a ClientConfig.
func LoadConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	var fileConfig FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fileConfig); err != nil {
		return nil, err
	}
	return fileConfig.toClientConfig()
}

func (f *FileConfig) toClientConfig() (*ClientConfig, error) {
	config := &ClientConfig{
		Endpoint:          f.Endpoint,
		APIKey:            f.APIKey,
		SamplingRate:      f.SamplingRate,
		ErrorSamplingRate: f.ErrorSamplingRate,
		MaxQueueSize:      f.MaxQueueSize,
		FlushThreshold:    f.FlushThreshold,
		ExcludedRoutes:    f.ExcludedRoutes,
		Tags:              f.Tags,
		GlobalMetadata:    f.GlobalMetadata,
		Debug:             f.Debug,
		Sync:              f.Sync,
	}
	if f.APIKeyHeader != "" {
		header := f.APIKeyHeader
		config.APIKeyHeader = &header
	}
	if f.FlushInterval != "" {
		interval, err := time.ParseDuration(f.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush_interval: %w", err)
		}
		config.FlushInterval = interval
	}
	return config, nil
}
