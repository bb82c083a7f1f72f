package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessPipeRoundTrip(t *testing.T) {
	a, b := NewInProcessPipe("FluidSolver", "SolidSolver", 4)
	ctx := context.Background()

	require.NoError(t, a.SendInt(ctx, 42))
	v, err := b.ReceiveInt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	require.NoError(t, a.SendBool(ctx, true))
	bv, err := b.ReceiveBool(ctx)
	require.NoError(t, err)
	assert.True(t, bv)

	require.NoError(t, a.SendDoubleVector(ctx, []float64{1, 2, 3}))
	dv, err := b.ReceiveDoubleVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, dv)
}

func TestInProcessPipeBidirectional(t *testing.T) {
	a, b := NewInProcessPipe("A", "B", 4)
	ctx := context.Background()

	require.NoError(t, b.SendInt(ctx, 7))
	v, err := a.ReceiveInt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}

func TestInProcessPipeFIFOOrder(t *testing.T) {
	a, b := NewInProcessPipe("A", "B", 8)
	ctx := context.Background()

	for i := int32(0); i < 5; i++ {
		require.NoError(t, a.SendInt(ctx, i))
	}
	for i := int32(0); i < 5; i++ {
		v, err := b.ReceiveInt(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestInProcessPipeWrongKind(t *testing.T) {
	a, b := NewInProcessPipe("A", "B", 1)
	ctx := context.Background()

	require.NoError(t, a.SendInt(ctx, 1))
	_, err := b.ReceiveBool(ctx)
	require.Error(t, err)
}

func TestInProcessPipeReceiveCanceled(t *testing.T) {
	a, _ := NewInProcessPipe("A", "B", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_ = a // a's receive side has nothing queued
	_, err := a.ReceiveInt(ctx)
	require.Error(t, err)
}

func TestInProcessPipeConcurrentSendReceive(t *testing.T) {
	a, b := NewInProcessPipe("A", "B", 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	const n = 100
	received := make([]int32, 0, n)
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			v, err := b.ReceiveInt(ctx)
			require.NoError(t, err)
			mu.Lock()
			received = append(received, v)
			mu.Unlock()
		}
	}()

	for i := int32(0); i < n; i++ {
		require.NoError(t, a.SendInt(ctx, i))
	}
	wg.Wait()

	assert.Len(t, received, n)
	for i, v := range received {
		assert.Equal(t, int32(i), v)
	}
}
