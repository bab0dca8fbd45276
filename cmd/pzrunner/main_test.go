package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/pzchessbot/pzrunner/config"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestIdentityHonorsMaxCores(t *testing.T) {
	is := is.New(t)
	out := execute(t, "identity", "--max-cores", "1")
	is.True(strings.Contains(out, "cores:     1\n"))
	is.True(strings.Contains(out, "worker-id: "))
}

func TestFlagsReachConfig(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	execute(t, "version", "--engine-dir", dir, "--api-url", "http://localhost:9999/api")
	is.Equal(cfg.GetString(config.ConfigAPIURL), "http://localhost:9999/api")
	is.Equal(cfg.GetString(config.ConfigEngineDir), dir)
	is.Equal(cfg.GetString(config.ConfigRunnerDir), dir+"/.pzrunner")
}

func TestVersion(t *testing.T) {
	is := is.New(t)
	out := execute(t, "version")
	is.True(strings.HasPrefix(out, "pzrunner version "+Version))
}
