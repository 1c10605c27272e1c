package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Name", "PID"},
		[][]string{{"worker1", "4321"}, {"worker2"}},
		[]columnAlignment{alignLeft, alignRight},
		false,
	)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "worker1")
	assert.Contains(t, out, "4321")
	assert.Equal(t, 6, strings.Count(out, "\n")+1, "border, header, separator, two rows, border")
	assert.Empty(t, renderTable(nil, nil, nil, true))
}

func TestOpenDaemon(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemons.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[daemons.worker1]
appRunAsUID = `+strconv.Itoa(os.Getuid())+`
appRunAsGID = `+strconv.Itoa(os.Getgid())+`
appPidLocation = "`+filepath.Join(dir, "worker1", "worker1.pid")+`"
logLocation = "`+filepath.Join(dir, "worker1.log")+`"
`), 0o644))

	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	d, err := openDaemon("worker1")
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, "worker1", d.Config().AppName)
	assert.False(t, d.IsRunning())

	logLevel = "debug"
	t.Cleanup(func() { logLevel = "" })
	d2, err := openDaemon("worker1")
	require.NoError(t, err)
	defer d2.Close()
	assert.Equal(t, 7, d2.Config().LogVerbosity)

	logLevel = "loud"
	_, err = openDaemon("worker1")
	assert.Error(t, err)
	logLevel = ""

	_, err = openDaemon("worker2")
	assert.ErrorContains(t, err, `daemon "worker2" is not defined`)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"start", "stop", "restart", "status", "install", "uninstall", "signals", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
