package run

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasihost/wasi"
)

func TestParsePreopen(t *testing.T) {
	p, err := parsePreopen("/data")
	require.NoError(t, err)
	assert.Equal(t, wasi.Preopen{FSPath: "/data", Path: "/data", Rights: wasi.AllRights, Inherit: wasi.AllRights}, p)

	p, err = parsePreopen("/=./sandbox,=ro,inherit:=ro")
	require.NoError(t, err)
	assert.Equal(t, "/", p.Path)
	assert.Equal(t, "./sandbox", p.FSPath)
	assert.Equal(t, wasi.ReadOnlyRights, p.Rights)
	assert.Equal(t, wasi.ReadOnlyRights, p.Inherit)

	p, err = parsePreopen("tmp=/tmp,-path_unlink_file,inherit:-fd_write")
	require.NoError(t, err)
	assert.Equal(t, wasi.AllRights&^wasi.RightsPathUnlinkFile, p.Rights)
	assert.Equal(t, wasi.AllRights&^wasi.RightsFdWrite, p.Inherit)

	p, err = parsePreopen("tmp=/tmp,=fd_readdir,path_open")
	require.NoError(t, err)
	assert.Equal(t, wasi.RightsFdReaddir|wasi.RightsPathOpen, p.Rights)

	_, err = parsePreopen("/tmp,frobnicate")
	assert.Error(t, err)
	_, err = parsePreopen("/tmp,-all")
	assert.Error(t, err)
	_, err = parsePreopen("")
	assert.Error(t, err)
}

func TestPreopensFlag(t *testing.T) {
	var p preopens
	require.NoError(t, p.Set("a=/x"))
	require.NoError(t, p.Set("/y,=dir"))
	assert.Equal(t, "a=/x;/y,=dir", p.String())
	assert.Len(t, p.values, 2)
	assert.Equal(t, "mount", p.Type())
	assert.Error(t, p.Set("a=/x,bogus"))
}

func TestEnvironment(t *testing.T) {
	env, err := environment(false, []string{"A=1", "B=x=y", "C="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""}, env)

	t.Setenv("WASIHOST_TEST", "yes")
	env, err = environment(true, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", env["WASIHOST_TEST"])

	_, err = environment(false, []string{"NOVALUE"})
	assert.Error(t, err)
	_, err = environment(false, []string{"=x"})
	assert.Error(t, err)
}

func TestWriteStats(t *testing.T) {
	expected := []wasi.SyscallStats{
		{Syscall: "fd_write", Calls: 3, Nanoseconds: 1200},
		{Syscall: "path_open", Calls: 2, Errors: 1, Nanoseconds: 800},
	}

	path := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, writeStats(path, expected))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "syscall,calls,errors,nanoseconds\n", string(data[:len("syscall,calls,errors,nanoseconds\n")]))

	var rows []wasi.SyscallStats
	require.NoError(t, csvutil.Unmarshal(data, &rows))
	assert.Equal(t, expected, rows)
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = newLogger("loud")
	assert.Error(t, err)
}
