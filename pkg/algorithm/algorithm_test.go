package algorithm

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren-sched/pkg/types"
)

type fakeEvents struct {
	interrupted atomic.Bool
}

func (f *fakeEvents) ForcedToInterrupt() bool                      { return f.interrupted.Load() }
func (f *fakeEvents) CommitIntermediateTimetable(_ types.Timetable) {}

func oneNodeSnapshot() *types.Snapshot {
	return &types.Snapshot{
		RH: []*types.RhItem{
			{Kind: types.RhKindCluster, ID: "c1", Children: []*types.RhItem{
				{Kind: types.RhKindPartition, ID: "p1", Children: []*types.RhItem{
					{Kind: types.RhKindNode, ID: "A"},
				}},
			}},
		},
		Clusters:   []types.Cluster{{ID: "c1", State: types.ClusterUp}},
		Partitions: []types.Partition{{ID: "p1", State: types.ClusterUp}},
		Nodes:      []types.Node{{ID: "A", StatePower: types.PowerUp, StateAlloc: types.AllocIdle}},
		Jobs: []types.Job{
			{ID: "j1", ClusterID: "c1", State: types.JobQueued, Request: []types.Resource{{Name: "node", Count: 1}}},
		},
	}
}

func TestFactoryCreateMatchesByFamily(t *testing.T) {
	f := NewFactory()
	require.NoError(t, f.Register(FCFSDescriptor, NewFCFSConstructor()))

	snap := oneNodeSnapshot()
	alg, err := f.Create(types.AlgorithmSpec{Family: "fcfs"}, snap)
	require.NoError(t, err)
	require.Equal(t, FCFSDescriptor, alg.Descriptor())
}

func TestFactoryCreateNoMatch(t *testing.T) {
	f := NewFactory()
	require.NoError(t, f.Register(FCFSDescriptor, NewFCFSConstructor()))

	_, err := f.Create(types.AlgorithmSpec{Family: "backfill"}, oneNodeSnapshot())
	require.ErrorIs(t, err, ErrNoMatchingAlgorithm)
}

func TestFactoryRegisterTwiceFails(t *testing.T) {
	f := NewFactory()
	require.NoError(t, f.Register(FCFSDescriptor, NewFCFSConstructor()))
	err := f.Register(FCFSDescriptor, NewFCFSConstructor())
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestFactoryFirstMatchWinsOnVersion(t *testing.T) {
	f := NewFactory()
	v1 := types.AlgorithmDescriptor{Family: "fcfs", Version: "1", DeviceType: "cpu"}
	v2 := types.AlgorithmDescriptor{Family: "fcfs", Version: "2", DeviceType: "cpu"}
	require.NoError(t, f.Register(v1, NewFCFSConstructor()))
	require.NoError(t, f.Register(v2, NewFCFSConstructor()))

	alg, err := f.Create(types.AlgorithmSpec{Family: "fcfs"}, oneNodeSnapshot())
	require.NoError(t, err)
	require.Equal(t, v1, alg.Descriptor())
}

func TestFCFSAlgorithmCreateTimetable(t *testing.T) {
	snap := oneNodeSnapshot()
	alg, err := NewFCFSConstructor()(snap)
	require.NoError(t, err)
	require.NoError(t, alg.BindTo(ComputeUnit{DeviceType: DeviceCPU}))

	tt, err := alg.CreateTimetable(snap, &fakeEvents{})
	require.NoError(t, err)
	require.Len(t, tt, 1)

	internal, _ := alg.Metrics()
	v, err := internal.IntValue(1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
}

func TestFCFSAlgorithmRequiresBinding(t *testing.T) {
	snap := oneNodeSnapshot()
	alg, err := NewFCFSConstructor()(snap)
	require.NoError(t, err)

	_, err = alg.CreateTimetable(snap, &fakeEvents{})
	require.ErrorIs(t, err, ErrNotBound)
}

func TestBindToRejectsGPU(t *testing.T) {
	snap := oneNodeSnapshot()
	alg, err := NewFCFSConstructor()(snap)
	require.NoError(t, err)

	err = alg.BindTo(ComputeUnit{DeviceType: DeviceGPU})
	require.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestHoldForeverCreateTimetableReturnsInitial(t *testing.T) {
	initial := types.Timetable{{JobID: "j1", StartTime: 0, NodeIDs: []string{"A"}}}
	alg, err := NewHoldForeverConstructor(initial)(oneNodeSnapshot())
	require.NoError(t, err)
	require.NoError(t, alg.BindTo(ComputeUnit{DeviceType: DeviceCPU}))

	tt, err := alg.CreateTimetable(oneNodeSnapshot(), &fakeEvents{})
	require.NoError(t, err)
	require.Equal(t, initial, tt)
}

func TestHoldForeverImproveYieldsOnInterrupt(t *testing.T) {
	initial := types.Timetable{{JobID: "j1"}}
	alg, err := NewHoldForeverConstructor(initial)(oneNodeSnapshot())
	require.NoError(t, err)
	require.NoError(t, alg.BindTo(ComputeUnit{DeviceType: DeviceCPU}))

	done := make(chan struct{})
	var tt types.Timetable
	var improveErr error
	events := &fakeEvents{}
	go func() {
		tt, improveErr = alg.ImproveTimetable(initial, oneNodeSnapshot(), events)
		close(done)
	}()

	events.interrupted.Store(true)
	<-done
	require.Error(t, improveErr)
	require.Equal(t, initial, tt)
}
