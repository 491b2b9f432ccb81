package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferKeepsNewest(t *testing.T) {
	for _, capacity := range []int{1, 2, 5} {
		for _, pushes := range []int{0, 1, capacity, capacity + 1, 3*capacity + 2} {
			b := NewBuffer[int](capacity, nil)
			for i := 0; i < pushes; i++ {
				require.NoError(t, b.Push(i))
			}

			got := b.Drain()
			want := []int{}
			for i := pushes - capacity; i < pushes; i++ {
				if i >= 0 {
					want = append(want, i)
				}
			}
			assert.Equal(t, want, got, "capacity %d pushes %d", capacity, pushes)

			dropped := 0
			if pushes > capacity {
				dropped = pushes - capacity
			}
			assert.Equal(t, uint64(dropped), b.Dropped())
		}
	}
}

func TestBufferOnDrop(t *testing.T) {
	var evicted []int
	b := NewBuffer[int](2, func(v int) { evicted = append(evicted, v) })
	for i := 1; i <= 4; i++ {
		require.NoError(t, b.Push(i))
	}
	assert.Equal(t, []int{1, 2}, evicted)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2, b.Cap())
}

func TestBufferRoundTripIsExact(t *testing.T) {
	img := testImage(16, 9)
	in := model.Frame{Seq: 42, Image: img, Timestamp: time.Now(), Kind: model.SourceFile, Origin: "x.png"}

	b := NewBuffer[model.Frame](2, nil)
	require.NoError(t, b.Push(in))
	out, err := b.TryPop()
	require.NoError(t, err)

	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.Bounds(), out.Bounds())
	assert.Equal(t, img.Pix, out.Image.Pix)
	assert.Equal(t, in.Timestamp, out.Timestamp)
}

func TestBufferPopTimeoutAndClose(t *testing.T) {
	b := NewBuffer[int](1, nil)

	start := time.Now()
	_, err := b.Pop(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrBufferEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, b.Push(7))
	b.Close()
	b.Close()
	assert.True(t, b.Closed())
	assert.ErrorIs(t, b.Push(8), model.ErrBufferClosed)

	v, err := b.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = b.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, model.ErrBufferClosed)
}

func TestBufferPopWakesOnPushAndCancel(t *testing.T) {
	b := NewBuffer[int](2, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	var popErr error
	go func() {
		defer wg.Done()
		got, popErr = b.Pop(context.Background(), 5*time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Push(3))
	wg.Wait()
	require.NoError(t, popErr)
	assert.Equal(t, 3, got)

	canx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Pop(canx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBufferCloseWakesWaiter(t *testing.T) {
	b := NewBuffer[int](2, nil)
	errs := make(chan error, 1)
	go func() {
		_, err := b.Pop(context.Background(), 5*time.Second)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, model.ErrBufferClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}
