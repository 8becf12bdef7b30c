package timecounter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTurnOnOffAccumulatesWorking(t *testing.T) {
	c := New()
	tok := NewToken()
	require.NoError(t, c.TurnOn(tok))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.TurnOff(tok))

	_, _, working := c.GetTimes()
	require.GreaterOrEqual(t, working, 20*time.Millisecond)
}

func TestTurnOnTwiceFails(t *testing.T) {
	c := New()
	tok := NewToken()
	require.NoError(t, c.TurnOn(tok))
	require.ErrorIs(t, c.TurnOn(tok), ErrAlreadyOn)
}

func TestTurnOffWithoutOnFails(t *testing.T) {
	c := New()
	require.ErrorIs(t, c.TurnOff(NewToken()), ErrNotOn)
}

func TestResetFailsWhileAcquirerActive(t *testing.T) {
	c := New()
	tok := NewToken()
	require.NoError(t, c.TurnOn(tok))
	require.ErrorIs(t, c.Reset(), ErrActiveAcquirers)
	require.NoError(t, c.TurnOff(tok))
	require.NoError(t, c.Reset())
}

func TestAcquireReleasesOnScopeExit(t *testing.T) {
	c := New()
	release := c.Acquire()
	release()
	require.NoError(t, c.Reset())
}

func TestIdlingAccumulatesBetweenAcquisitions(t *testing.T) {
	c := New()
	tok := NewToken()
	require.NoError(t, c.TurnOn(tok))
	require.NoError(t, c.TurnOff(tok))
	time.Sleep(20 * time.Millisecond)

	_, idling, _ := c.GetTimes()
	require.GreaterOrEqual(t, idling, 20*time.Millisecond)
}

func TestFirstOnLastOffWithMultipleAcquirers(t *testing.T) {
	c := New()
	a, b := NewToken(), NewToken()
	require.NoError(t, c.TurnOn(a))
	require.NoError(t, c.TurnOn(b))
	require.NoError(t, c.TurnOff(a))
	// b still on: counter should report working, not idling.
	_, idling1, _ := c.GetTimes()
	require.NoError(t, c.TurnOff(b))
	time.Sleep(10 * time.Millisecond)
	_, idling2, _ := c.GetTimes()
	require.GreaterOrEqual(t, idling2, idling1)
}
