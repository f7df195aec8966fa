package clihelp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/daemonctl"
	"github.com/atlasbridge/atlasbridge/internal/domain"
)

func TestRenderNilIsOK(t *testing.T) {
	msg, code := Render(nil)
	require.Empty(t, msg)
	require.Equal(t, domain.ExitOK, code)
}

func TestRenderRelayErrorUsesCauseRemedyAndCode(t *testing.T) {
	err := &domain.StorageFatalError{Op: "insert_prompt", Err: errors.New("disk full")}
	msg, code := Render(err)
	require.Contains(t, msg, "prompt store could not complete")
	require.Equal(t, domain.ExitStateCorrupted, code)
}

func TestRenderWrappedRelayErrorStillUnwraps(t *testing.T) {
	inner := &domain.ChannelPermanentError{Channel: "wsconsole", Err: errors.New("refused")}
	wrapped := errorsJoin(inner)
	msg, code := Render(wrapped)
	require.Contains(t, msg, "messaging channel rejected delivery")
	require.Equal(t, domain.ExitNetwork, code)
}

func errorsJoin(err error) error {
	return &wrapper{err: err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestRenderAlreadyRunningIsConfigExit(t *testing.T) {
	err := &daemonctl.AlreadyRunningError{PID: 1234}
	msg, code := Render(err)
	require.Contains(t, msg, "already running")
	require.Equal(t, domain.ExitConfig, code)
}

func TestRenderUnclassifiedErrorIsGeneral(t *testing.T) {
	msg, code := Render(errors.New("something odd happened"))
	require.Contains(t, msg, "something odd happened")
	require.Equal(t, domain.ExitGeneral, code)
}
