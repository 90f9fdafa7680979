package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	loop := New(logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, loop.Post(func() { got = append(got, i) }))
	}
	loop.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopSerializesConcurrentPosts(t *testing.T) {
	loop, _ := startLoop(t)

	var (
		wg      sync.WaitGroup
		active  int
		overlap bool
		count   int
	)
	finished := make(chan struct{})

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				loop.Post(func() {
					active++
					if active > 1 {
						overlap = true
					}
					count++
					active--
				})
			}
		}()
	}
	wg.Wait()
	loop.Post(func() { close(finished) })

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not finish")
	}

	assert.False(t, overlap, "tasks must never run concurrently")
	assert.Equal(t, 400, count)
}

func TestLoopPostFromTaskIsDeferred(t *testing.T) {
	loop, _ := startLoop(t)

	var order []string
	done := make(chan struct{})
	loop.Post(func() {
		loop.Post(func() {
			order = append(order, "inner")
			close(done)
		})
		order = append(order, "outer")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("inner task did not run")
	}
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoopSurvivesPanic(t *testing.T) {
	loop, _ := startLoop(t)

	done := make(chan struct{})
	loop.Post(func() { panic("boom") })
	loop.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestLoopPostAfterStop(t *testing.T) {
	loop := New(logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	cancel()
	<-loop.Done()

	assert.False(t, loop.Post(func() {}), "Post should fail once the loop has stopped")
	assert.Equal(t, 0, loop.Pending())
}
