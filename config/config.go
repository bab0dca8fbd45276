package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ConfigAPIURL           = "api-url"
	ConfigEngineDir        = "engine-dir"
	ConfigRunnerDir        = "runner-dir"
	ConfigBinary           = "binary"
	ConfigWeightsFile      = "weights-file"
	ConfigMake             = "make"
	ConfigBuildJobs        = "build-jobs"
	ConfigBuildArgs        = "build-args"
	ConfigDatagenArgs      = "datagen-args"
	ConfigMaxCores         = "max-cores"
	ConfigMemoryPerCoreMB  = "memory-per-core-mb"
	ConfigCompressor       = "compressor"
	ConfigHTTPTimeout      = "http-timeout"
	ConfigDownloadTimeout  = "download-timeout"
	ConfigConfigRetryDelay = "config-retry-delay"
	ConfigNetRetryDelay    = "net-retry-delay"
	ConfigHeartbeatEvery   = "heartbeat-interval"
	ConfigUploadAttempts   = "upload-attempts"
	ConfigRetainFailed     = "retain-failed"
	ConfigSpoolMaxAttempts = "spool-max-attempts"
	ConfigVerifyPGN        = "verify-pgn"
	ConfigNetCacheSize     = "net-cache-size"
	ConfigMetricsAddr      = "metrics-addr"
	ConfigNatsURL          = "nats-url"
	ConfigNatsSubject      = "nats-subject"
	ConfigArchiveEndpoint  = "archive-endpoint"
	ConfigArchiveBucket    = "archive-bucket"
	ConfigArchiveAccessKey = "archive-access-key"
	ConfigArchiveSecretKey = "archive-secret-key"
	ConfigArchiveUseSSL    = "archive-use-ssl"
	ConfigDebug            = "debug"
	ConfigLogJSON          = "log-json"
)

// DefaultAPIURL is the coordination server the runner reports to.
const DefaultAPIURL = "https://pgn.int0x80.ca/api"

var secretKeys = []string{ConfigArchiveSecretKey, ConfigArchiveAccessKey}

// Config wraps a viper instance. Values come from, in increasing order of
// precedence: defaults, config.yaml, PZRUNNER_* environment variables (a
// .env file is loaded into the environment first) and command-line flags.
type Config struct {
	*viper.Viper
}

func DefaultConfig() *Config {
	c := &Config{Viper: viper.New()}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	c.SetDefault(ConfigAPIURL, DefaultAPIURL)
	c.SetDefault(ConfigEngineDir, ".")
	c.SetDefault(ConfigRunnerDir, "")
	c.SetDefault(ConfigBinary, "pzchessbot")
	c.SetDefault(ConfigWeightsFile, "nnue.bin")
	c.SetDefault(ConfigMake, "make")
	c.SetDefault(ConfigBuildJobs, 0)
	c.SetDefault(ConfigBuildArgs, "")
	c.SetDefault(ConfigDatagenArgs, "")
	c.SetDefault(ConfigMaxCores, 64)
	c.SetDefault(ConfigMemoryPerCoreMB, 0)
	c.SetDefault(ConfigCompressor, "zstd")
	c.SetDefault(ConfigHTTPTimeout, 30*time.Second)
	c.SetDefault(ConfigDownloadTimeout, 10*time.Minute)
	c.SetDefault(ConfigConfigRetryDelay, 60*time.Second)
	c.SetDefault(ConfigNetRetryDelay, 10*time.Second)
	c.SetDefault(ConfigHeartbeatEvery, 10*time.Second)
	c.SetDefault(ConfigUploadAttempts, 3)
	c.SetDefault(ConfigRetainFailed, false)
	c.SetDefault(ConfigSpoolMaxAttempts, 5)
	c.SetDefault(ConfigVerifyPGN, false)
	c.SetDefault(ConfigNetCacheSize, 4)
	c.SetDefault(ConfigMetricsAddr, "")
	c.SetDefault(ConfigNatsURL, "")
	c.SetDefault(ConfigNatsSubject, "pzrunner.progress")
	c.SetDefault(ConfigArchiveEndpoint, "")
	c.SetDefault(ConfigArchiveBucket, "")
	c.SetDefault(ConfigArchiveAccessKey, "")
	c.SetDefault(ConfigArchiveSecretKey, "")
	c.SetDefault(ConfigArchiveUseSSL, true)
	c.SetDefault(ConfigDebug, false)
	c.SetDefault(ConfigLogJSON, false)
}

// Load reads the environment, an optional config file and the given flags.
// flags may be nil.
func (c *Config) Load(flags *pflag.FlagSet) error {
	// A missing .env is the common case.
	_ = godotenv.Load()

	c.SetConfigName("config")
	c.SetConfigType("yaml")
	c.AddConfigPath(".")
	c.AddConfigPath("$HOME/.pzrunner")

	c.SetEnvPrefix("pzrunner")
	c.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.AutomaticEnv()

	if err := c.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	if flags != nil {
		if err := c.BindPFlags(flags); err != nil {
			return err
		}
	}
	return nil
}

// AdjustRelativePaths makes the engine and runner directories absolute,
// relative to basePath. The runner directory defaults to a hidden directory
// inside the engine directory.
func (c *Config) AdjustRelativePaths(basePath string) {
	engineDir := c.GetString(ConfigEngineDir)
	if !filepath.IsAbs(engineDir) {
		engineDir = filepath.Join(basePath, engineDir)
	}
	c.Set(ConfigEngineDir, engineDir)

	runnerDir := c.GetString(ConfigRunnerDir)
	if runnerDir == "" {
		runnerDir = filepath.Join(engineDir, ".pzrunner")
	} else if !filepath.IsAbs(runnerDir) {
		runnerDir = filepath.Join(basePath, runnerDir)
	}
	c.Set(ConfigRunnerDir, runnerDir)
}

// WeightsPath is where the engine expects its network file.
func (c *Config) WeightsPath() string {
	w := c.GetString(ConfigWeightsFile)
	if filepath.IsAbs(w) {
		return w
	}
	return filepath.Join(c.GetString(ConfigEngineDir), w)
}

// SanitizedSettings returns all settings with credentials redacted, for
// logging.
func (c *Config) SanitizedSettings() map[string]any {
	settings := c.AllSettings()
	for _, k := range secretKeys {
		if v, ok := settings[k]; ok && v != "" {
			settings[k] = "********"
		}
	}
	return settings
}

// MustGetwd is a small helper for callers that resolve paths against the
// working directory.
func MustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return wd
}
