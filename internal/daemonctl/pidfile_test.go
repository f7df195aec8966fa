package daemonctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireWritesCurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	pf, err := Acquire(path)
	require.NoError(t, err)
	defer pf.Close()

	pid, err := ReadRunningPID(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestAcquireFailsWhenAlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	first, err := Acquire(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = Acquire(path)
	require.Error(t, err)
	var alreadyRunning *AlreadyRunningError
	require.ErrorAs(t, err, &alreadyRunning)
}

func TestCloseRemovesPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	pf, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, pf.Close())

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestAcquireSucceedsAgainAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	first, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Acquire(path)
	require.NoError(t, err)
	defer second.Close()
}
