package exec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSubmitRunsTask(t *testing.T) {
	pools := NewPools(2, 1)
	var ran int32
	pools.Compile.Submit(context.Background(), "/proj/a", func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
	})
	pools.Compile.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPoolSubmitRecoversFromPanic(t *testing.T) {
	pools := NewPools(1, 1)
	assert.NotPanics(t, func() {
		pools.Compile.Submit(context.Background(), "/proj/a", func(ctx context.Context) {
			panic("boom")
		})
		pools.Compile.Wait()
	})
}

func TestAcquirePermitBoundsConcurrency(t *testing.T) {
	pools := NewPools(4, 1)

	release, err := pools.AcquirePermit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pools.AcquirePermit(ctx)
	assert.Error(t, err, "second permit should block until the first is released")

	release()
	release2, err := pools.AcquirePermit(context.Background())
	require.NoError(t, err)
	release2()
}

func TestNewPoolsDefaultsInvalidArgs(t *testing.T) {
	pools := NewPools(0, 0)
	release, err := pools.AcquirePermit(context.Background())
	require.NoError(t, err)
	release()
}
