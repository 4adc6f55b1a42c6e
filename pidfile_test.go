package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFile_WritesAndCleansUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "cleanup must remove the PID file")
}

func TestWritePIDFile_EmptyPath(t *testing.T) {
	_, err := writePIDFile("")

	require.Error(t, err)
}

func TestWritePIDFile_SecondHolderRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)
	defer cleanup()

	_, err = writePIDFile(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestReadPIDFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := readPIDFile(path)

	require.Error(t, err)
}

func TestSendWake_NoDaemon(t *testing.T) {
	err := sendWake(filepath.Join(t.TempDir(), "absent.pid"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running daemon")
}
