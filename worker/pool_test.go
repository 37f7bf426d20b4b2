package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func() { n.Add(1) }))
	}
	assert.Equal(t, int32(10), n.Load())
}

func TestWorkerSurvivesPanic(t *testing.T) {
	p := newPool(1, time.Millisecond)
	defer p.Close()

	err := p.Submit(context.Background(), func() { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	ran := false
	require.NoError(t, p.Submit(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestSubmitContext(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), func() {
			close(started)
			<-release
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestClose(t *testing.T) {
	p := NewPool(0)
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrClosed)
}

func TestDo(t *testing.T) {
	p := NewPool(1)
	n, err := Do(context.Background(), p, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	p.Close()
	n, err = Do(context.Background(), p, func() (int, error) { return 7, nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, n)
}
