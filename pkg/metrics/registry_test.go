package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndUpdateInt(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterInt(1, "jobs_scheduled"))

	v, err := r.UpdateInt(1, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)

	v, err = r.IntValue(1)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
}

func TestRegisterTwiceFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterInt(1, "x"))
	require.ErrorIs(t, r.RegisterInt(1, "x"), ErrAlreadyRegistered)
}

func TestUnregisteredOperationsFail(t *testing.T) {
	r := NewRegistry()
	_, err := r.IntValue(99)
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestHandlerFiresOutsideLockWithOldAndNew(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterInt(1, "x"))

	var mu sync.Mutex
	var calls [][2]int64
	require.NoError(t, r.AddIntHandler(1, func(oldV, newV int64) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int64{oldV, newV})
	}))

	_, err := r.UpdateInt(1, 5)
	require.NoError(t, err)
	_, err = r.UpdateInt(1, 2)
	require.NoError(t, err)

	require.Equal(t, [][2]int64{{0, 5}, {5, 7}}, calls)
}

func TestResetNotifiesHandlers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFloat(1, "x"))
	_, err := r.UpdateFloat(1, 4.5)
	require.NoError(t, err)

	var last [2]float64
	require.NoError(t, r.AddFloatHandler(1, func(oldV, newV float64) { last = [2]float64{oldV, newV} }))
	require.NoError(t, r.ResetFloat(1))
	require.Equal(t, [2]float64{4.5, 0}, last)

	v, err := r.FloatValue(1)
	require.NoError(t, err)
	require.Equal(t, 0.0, v)
}

func TestCloneIsIndependent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterInt(1, "x"))
	_, err := r.UpdateInt(1, 10)
	require.NoError(t, err)

	clone := r.Clone()
	_, err = r.UpdateInt(1, 1)
	require.NoError(t, err)

	cv, err := clone.IntValue(1)
	require.NoError(t, err)
	require.Equal(t, int64(10), cv, "clone must not observe mutations made after it was taken")
}

func TestSamplesFlattensBothTables(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterInt(1, "a"))
	require.NoError(t, r.RegisterFloat(2, "b"))
	_, err := r.UpdateInt(1, 7)
	require.NoError(t, err)
	_, err = r.UpdateFloat(2, 1.5)
	require.NoError(t, err)

	samples := r.Samples()
	require.Len(t, samples, 2)
}
