package config

import "time"

// CatalogConfig holds connection settings for the Catalog GraphQL API.
type CatalogConfig struct {
	// URL is the GraphQL endpoint, e.g. "http://localhost:9999/graphql".
	URL string `yaml:"url"`

	// APIKey is sent as the ApiKey header when non-empty.
	APIKey string `yaml:"api_key"`

	// Timeout is the per-request deadline.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConnections bounds the HTTP connection pool.
	MaxConnections int `yaml:"max_connections"`

	// MaxRetries is the maximum number of attempts for transient errors.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultCatalogConfig returns the built-in Catalog client defaults.
func DefaultCatalogConfig() *CatalogConfig {
	return &CatalogConfig{
		URL:            "http://localhost:9999/graphql",
		Timeout:        30 * time.Second,
		MaxConnections: 10,
		MaxRetries:     3,
	}
}

// VideoConfig holds settings for the remote video-analysis service.
type VideoConfig struct {
	// URL is the service base URL; the client POSTs to {URL}/process_video/.
	URL string `yaml:"url"`

	// Timeout is the per-request deadline. Video analysis of long files is
	// slow, hence the generous default.
	Timeout time.Duration `yaml:"timeout"`

	// FrameInterval is the sampling interval in seconds sent to the service.
	FrameInterval float64 `yaml:"frame_interval"`

	// Threshold is the detection confidence cutoff sent to the service.
	Threshold float64 `yaml:"threshold"`
}

// DefaultVideoConfig returns the built-in video-analysis defaults.
func DefaultVideoConfig() *VideoConfig {
	return &VideoConfig{
		URL:           "http://localhost:8000",
		Timeout:       10 * time.Minute,
		FrameInterval: 2.0,
		Threshold:     0.3,
	}
}
