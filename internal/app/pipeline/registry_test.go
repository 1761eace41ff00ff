package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/proxyscope/internal/domain"
)

type forgettingSource struct {
	*fixedSource
	forgotten []int
}

func (s *forgettingSource) Forget(port int) { s.forgotten = append(s.forgotten, port) }

func TestRegistryRemoveDeletesHistory(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	eps := newMemEndpoints()
	st := newMemStore()
	locks := NewPortLocks()
	src := &forgettingSource{fixedSource: constantSource(domain.Delta{Up: 10, Down: 20})}
	reg := NewRegistry(eps, st, src, locks, newRecordingObs())
	rec := NewRecorder(RecorderConfig{Endpoints: eps, Source: src, Store: st, Locks: locks})

	_, err := reg.Add(ctx, 10001, "/ws")
	require.NoError(t, err)
	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.NoError(t, rec.Tick(ctx, list))
	require.NoError(t, rec.Tick(ctx, list))
	require.Len(t, st.samples(10001), 2)

	require.NoError(t, reg.Remove(ctx, 10001))
	assert.Empty(t, st.samples(10001))
	assert.Contains(t, src.forgotten, 10001)

	// A tick that still carries the old endpoint list writes nothing.
	require.NoError(t, rec.Tick(ctx, list))
	assert.Empty(t, st.samples(10001))
}

func TestRegistryReAddStartsFreshHistory(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	eps := newMemEndpoints()
	st := newMemStore()
	locks := NewPortLocks()
	src := constantSource(domain.Delta{Up: 100, Down: 200})
	reg := NewRegistry(eps, st, src, locks, nil)
	rec := NewRecorder(RecorderConfig{Endpoints: eps, Source: src, Store: st, Locks: locks})

	first, err := reg.Add(ctx, 10001, "/")
	require.NoError(t, err)
	require.NoError(t, rec.Tick(ctx, []domain.Endpoint{first}))
	require.NoError(t, rec.Tick(ctx, []domain.Endpoint{first}))
	require.NoError(t, reg.Remove(ctx, 10001))

	second, err := reg.Add(ctx, 10001, "/")
	require.NoError(t, err)
	require.NotEqual(t, first.ClientID, second.ClientID)
	require.NoError(t, rec.Tick(ctx, []domain.Endpoint{second}))

	got := st.samples(10001)
	require.Len(t, got, 1)
	assert.EqualValues(t, 100, got[0].Uplink)
	assert.EqualValues(t, 200, got[0].Downlink)
}

func TestRegistryAddPurgesOrphanHistory(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	eps := newMemEndpoints()
	st := newMemStore()
	st.seed(domain.TrafficSample{Timestamp: time.Unix(1, 0), Port: 10001, Uplink: 999, Downlink: 999})
	obs := newRecordingObs()
	reg := NewRegistry(eps, st, constantSource(domain.Delta{}), NewPortLocks(), obs)

	_, err := reg.Add(ctx, 10001, "/")
	require.NoError(t, err)
	assert.Empty(t, st.samples(10001))
	assert.Equal(t, 1, obs.count(&obs.infos, "stale_history_purged"))
}

func TestRegistryRejectsDuplicateAndInvalid(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	eps := newMemEndpoints(10001)
	st := newMemStore()
	st.seed(domain.TrafficSample{Timestamp: time.Unix(1, 0), Port: 10001, Uplink: 5})
	reg := NewRegistry(eps, st, constantSource(domain.Delta{}), NewPortLocks(), nil)

	_, err := reg.Add(ctx, 10001, "/")
	require.ErrorIs(t, err, domain.ErrPortAlreadyExists)
	// A rejected add leaves the existing history alone.
	assert.Len(t, st.samples(10001), 1)

	_, err = reg.Add(ctx, 70000, "/")
	require.ErrorIs(t, err, domain.ErrInvalidPort)

	err = reg.Remove(context.Background(), 4242)
	require.ErrorIs(t, err, domain.ErrEndpointNotFound)
}
