package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	is := is.New(t)
	c := DefaultConfig()
	is.Equal(c.GetString(ConfigAPIURL), DefaultAPIURL)
	is.Equal(c.GetDuration(ConfigConfigRetryDelay), 60*time.Second)
	is.Equal(c.GetDuration(ConfigHeartbeatEvery), 10*time.Second)
	is.Equal(c.GetString(ConfigWeightsFile), "nnue.bin")
	is.Equal(c.GetInt(ConfigUploadAttempts), 3)
}

func TestLoadEnvAndFlags(t *testing.T) {
	is := is.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("PZRUNNER_API_URL", "http://env.example/api")
	t.Setenv("PZRUNNER_HEARTBEAT_INTERVAL", "3s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int(ConfigMaxCores, 64, "")
	is.NoErr(fs.Parse([]string{"--max-cores=8"}))

	c := DefaultConfig()
	is.NoErr(c.Load(fs))
	is.Equal(c.GetString(ConfigAPIURL), "http://env.example/api")
	is.Equal(c.GetDuration(ConfigHeartbeatEvery), 3*time.Second)
	is.Equal(c.GetInt(ConfigMaxCores), 8)
}

func TestAdjustRelativePaths(t *testing.T) {
	is := is.New(t)
	c := DefaultConfig()
	c.Set(ConfigEngineDir, "engine")
	c.AdjustRelativePaths("/srv")
	is.Equal(c.GetString(ConfigEngineDir), filepath.Join("/srv", "engine"))
	is.Equal(c.GetString(ConfigRunnerDir), filepath.Join("/srv", "engine", ".pzrunner"))
	is.Equal(c.WeightsPath(), filepath.Join("/srv", "engine", "nnue.bin"))

	c.Set(ConfigRunnerDir, "/var/lib/pzrunner")
	c.Set(ConfigWeightsFile, "/nets/current.bin")
	c.AdjustRelativePaths("/srv")
	is.Equal(c.GetString(ConfigRunnerDir), "/var/lib/pzrunner")
	is.Equal(c.WeightsPath(), "/nets/current.bin")
}

func TestSanitizedSettings(t *testing.T) {
	is := is.New(t)
	c := DefaultConfig()
	c.Set(ConfigArchiveSecretKey, "hunter2")
	s := c.SanitizedSettings()
	is.Equal(s[ConfigArchiveSecretKey], "********")
	is.Equal(s[ConfigAPIURL], DefaultAPIURL)
}
