package http

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teltubby/teltubby/internal/objstore"
	"github.com/teltubby/teltubby/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/teltubby.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeSimulator struct{ simulating bool }

func (f fakeSimulator) Simulating() bool { return f.simulating }

func TestCheck_AllNilDepsReportsHealthy(t *testing.T) {
	d := Deps{}
	result := d.Check(context.Background())
	assert.Equal(t, "healthy", result.Status)
	assert.Empty(t, result.Components)
}

func TestCheck_HealthyStoreAndObjectStore(t *testing.T) {
	st := newTestStore(t)
	mockS3 := objstore.NewMockS3Client()
	obj := objstore.NewClientFromDeps(mockS3, &objstore.MockPresigner{}, "archive", 5*time.Second)

	d := Deps{Store: st, ObjectStore: obj}
	result := d.Check(context.Background())

	assert.Equal(t, "healthy", result.Status)
	assert.Len(t, result.Components, 2)
	for _, c := range result.Components {
		assert.True(t, c.OK)
	}
}

func TestCheck_WorkerSimulatingDegradesAggregate(t *testing.T) {
	d := Deps{Worker: fakeSimulator{simulating: true}}
	result := d.Check(context.Background())

	assert.Equal(t, "degraded", result.Status)
	require.Len(t, result.Components, 1)
	assert.Equal(t, "worker", result.Components[0].Name)
	assert.False(t, result.Components[0].OK)
}

func TestCheck_AuthRecoverySimulatingDegradesAggregate(t *testing.T) {
	d := Deps{AuthRecovery: fakeSimulator{simulating: true}}
	result := d.Check(context.Background())
	assert.Equal(t, "degraded", result.Status)
}
