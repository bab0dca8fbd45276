package worker

import (
	"time"

	"github.com/pzchessbot/pzrunner/config"
)

// WorkerConfig holds the settings of the main loop.
type WorkerConfig struct {
	// Root of the coordination API, e.g. https://pgn.int0x80.ca/api
	APIURL string

	// Bound on regular API requests
	HTTPTimeout time.Duration

	// Bound on network downloads and data uploads
	DownloadTimeout time.Duration

	// How long to wait after the config could not be fetched, or after a
	// failed build
	ConfigRetryDelay time.Duration

	// How long to wait after a network file could not be installed
	NetRetryDelay time.Duration

	// How often to announce liveness
	HeartbeatInterval time.Duration
}

// DefaultWorkerConfig creates a WorkerConfig with default values.
func DefaultWorkerConfig() *WorkerConfig {
	return NewWorkerConfig(config.DefaultConfig())
}

// NewWorkerConfig reads the loop settings out of cfg.
func NewWorkerConfig(cfg *config.Config) *WorkerConfig {
	return &WorkerConfig{
		APIURL:            cfg.GetString(config.ConfigAPIURL),
		HTTPTimeout:       cfg.GetDuration(config.ConfigHTTPTimeout),
		DownloadTimeout:   cfg.GetDuration(config.ConfigDownloadTimeout),
		ConfigRetryDelay:  cfg.GetDuration(config.ConfigConfigRetryDelay),
		NetRetryDelay:     cfg.GetDuration(config.ConfigNetRetryDelay),
		HeartbeatInterval: cfg.GetDuration(config.ConfigHeartbeatEvery),
	}
}
