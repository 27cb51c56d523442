package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "extract", "prepare-masks", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestInvalidConfigurationFails(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"extract", "--quiet", "--coverage-threshold", "2", "--base-path", t.TempDir()})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coverage_threshold")
}

// loaded runs a subcommand up to its configuration load and returns the app.
func loaded(t *testing.T, args ...string) *app {
	t.Helper()
	a := newApp()
	root := a.rootCmd()
	for _, c := range root.Commands() {
		c.RunE = func(*cobra.Command, []string) error { return nil }
	}
	root.SetArgs(append(args, "--quiet", "--base-path", t.TempDir()))
	require.NoError(t, root.Execute())
	return a
}

func TestSubcommandFlagsReachConfig(t *testing.T) {
	assert.True(t, loaded(t, "run", "--write-geojson").cfg.WriteGeoJSON)
	assert.True(t, loaded(t, "extract", "--write-geojson").cfg.WriteGeoJSON)
	assert.False(t, loaded(t, "run").cfg.WriteGeoJSON)

	a := loaded(t, "run", "--write-rasters=false")
	assert.False(t, a.cfg.WriteRasters)
}
