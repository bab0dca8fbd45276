package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pzchessbot/pzrunner/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pzrunner",
	Short: "pzrunner - self-play data generation worker for PZChessBot",
	Long: `pzrunner polls the coordination server for the current generation
settings, keeps the engine's network up to date, rebuilds the engine, runs
self-play data generation on every core and uploads the resulting games.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.DefaultConfig()
		if err := cfg.Load(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.AdjustRelativePaths(config.MustGetwd())
		setupLogging(cfg.GetBool(config.ConfigDebug), cfg.GetBool(config.ConfigLogJSON))
		log.Debug().Interface("config", cfg.SanitizedSettings()).Msg("loaded config")
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pzrunner version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	f := rootCmd.PersistentFlags()
	f.String(config.ConfigAPIURL, config.DefaultAPIURL, "Coordination API root")
	f.String(config.ConfigEngineDir, ".", "Engine source directory; make, the generator and its output live here")
	f.String(config.ConfigRunnerDir, "", "Runner state directory (default <engine-dir>/.pzrunner)")
	f.String(config.ConfigBinary, "pzchessbot", "Generator binary produced by the build")
	f.String(config.ConfigWeightsFile, "nnue.bin", "Network weights file the build embeds")
	f.String(config.ConfigMake, "make", "make executable")
	f.Int(config.ConfigBuildJobs, 0, "Parallel build jobs (0 uses the core count)")
	f.String(config.ConfigBuildArgs, "", "Extra make arguments, shell-quoted")
	f.String(config.ConfigDatagenArgs, "", "Extra generator arguments, shell-quoted")
	f.Int(config.ConfigMaxCores, 64, "Upper bound on generator threads")
	f.Int(config.ConfigMemoryPerCoreMB, 0, "Memory reserved per generator thread in MB (0 disables the check)")
	f.String(config.ConfigCompressor, "zstd", "zstd executable; compression happens in process if it is missing")
	f.Duration(config.ConfigHTTPTimeout, 30*time.Second, "Timeout for API requests")
	f.Duration(config.ConfigDownloadTimeout, 10*time.Minute, "Timeout for network downloads and data uploads")
	f.Duration(config.ConfigConfigRetryDelay, 60*time.Second, "Wait after a failed config fetch or build")
	f.Duration(config.ConfigNetRetryDelay, 10*time.Second, "Wait after a failed network download")
	f.Duration(config.ConfigHeartbeatEvery, 10*time.Second, "Heartbeat interval")
	f.Int(config.ConfigUploadAttempts, 3, "Attempts per file upload")
	f.Bool(config.ConfigRetainFailed, false, "Keep files whose upload failed and retry them later")
	f.Int(config.ConfigSpoolMaxAttempts, 5, "Attempts before a kept file is given up")
	f.Bool(config.ConfigVerifyPGN, false, "Parse output files before upload and drop those without games")
	f.Int(config.ConfigNetCacheSize, 4, "Number of downloaded networks kept on disk")
	f.String(config.ConfigMetricsAddr, "", "Serve Prometheus metrics on this address")
	f.String(config.ConfigNatsURL, "", "Publish progress events to this NATS server")
	f.String(config.ConfigNatsSubject, "pzrunner.progress", "NATS subject for progress events")
	f.String(config.ConfigArchiveEndpoint, "", "S3 endpoint for the archive copy of uploaded files")
	f.String(config.ConfigArchiveBucket, "", "S3 bucket for the archive copy (empty disables archiving)")
	f.String(config.ConfigArchiveAccessKey, "", "S3 access key")
	f.String(config.ConfigArchiveSecretKey, "", "S3 secret key")
	f.Bool(config.ConfigArchiveUseSSL, true, "Use TLS for the S3 endpoint")
	f.Bool(config.ConfigDebug, false, "Debug logging")
	f.Bool(config.ConfigLogJSON, false, "Log JSON instead of console output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(debug, jsonOut bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if jsonOut {
		logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		}
		output.FormatFieldName = func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		}
		logger = zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &logger
	log.Logger = logger
	logger.Debug().Msg("Debug logging is on")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pzrunner version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
