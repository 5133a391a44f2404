// ABOUTME: Tests for the prompt bridge's FIFO, handoff, close, and idle semantics.
// ABOUTME: Covers buffered ordering, suspended-consumer resume, and cancellation races.

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/perch-gateway/internal/runtime"
)

func TestBridge_BufferedFIFO(t *testing.T) {
	b := NewBridge(nil)

	b.Push(runtime.TurnInput{Content: "a"})
	b.Push(runtime.TurnInput{Content: "b"})
	b.Push(runtime.TurnInput{Content: "c"})

	for _, want := range []string{"a", "b", "c"} {
		input, ok := b.Next(t.Context())
		require.True(t, ok)
		assert.Equal(t, want, input.Content)
	}
}

func TestBridge_HandoffToSuspendedConsumer(t *testing.T) {
	b := NewBridge(nil)

	got := make(chan runtime.TurnInput, 1)
	go func() {
		input, ok := b.Next(context.Background())
		if ok {
			got <- input
		}
	}()

	// Give the consumer a moment to suspend before pushing.
	time.Sleep(20 * time.Millisecond)
	b.Push(runtime.TurnInput{Content: "hello"})

	select {
	case input := <-got:
		assert.Equal(t, "hello", input.Content)
	case <-time.After(time.Second):
		t.Fatal("suspended consumer was not resumed")
	}
}

func TestBridge_InterleavedOrdering(t *testing.T) {
	b := NewBridge(nil)

	b.Push(runtime.TurnInput{Content: "a"})

	input, ok := b.Next(t.Context())
	require.True(t, ok)
	assert.Equal(t, "a", input.Content)

	b.Push(runtime.TurnInput{Content: "b"})
	b.Push(runtime.TurnInput{Content: "c"})

	input, ok = b.Next(t.Context())
	require.True(t, ok)
	assert.Equal(t, "b", input.Content)

	input, ok = b.Next(t.Context())
	require.True(t, ok)
	assert.Equal(t, "c", input.Content)
}

func TestBridge_CloseDeliversBufferedFirst(t *testing.T) {
	b := NewBridge(nil)

	b.Push(runtime.TurnInput{Content: "a"})
	b.Push(runtime.TurnInput{Content: "b"})
	b.Close()

	input, ok := b.Next(t.Context())
	require.True(t, ok)
	assert.Equal(t, "a", input.Content)

	input, ok = b.Next(t.Context())
	require.True(t, ok)
	assert.Equal(t, "b", input.Content)

	_, ok = b.Next(t.Context())
	assert.False(t, ok, "drained closed bridge must report end of sequence")
}

func TestBridge_CloseResumesSuspendedConsumer(t *testing.T) {
	b := NewBridge(nil)

	done := make(chan bool, 1)
	go func() {
		_, ok := b.Next(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close did not resume the suspended consumer")
	}
}

func TestBridge_PushAfterCloseDropped(t *testing.T) {
	b := NewBridge(nil)

	b.Close()
	b.Push(runtime.TurnInput{Content: "late"})

	_, ok := b.Next(t.Context())
	assert.False(t, ok)
}

func TestBridge_CloseIdempotent(t *testing.T) {
	b := NewBridge(nil)
	b.Close()
	b.Close()

	_, ok := b.Next(t.Context())
	assert.False(t, ok)
}

func TestBridge_IdleFiresOnSecondPullOnly(t *testing.T) {
	var mu sync.Mutex
	idleCount := 0

	b := NewBridge(func() {
		mu.Lock()
		idleCount++
		mu.Unlock()
	})

	b.Push(runtime.TurnInput{Content: "first"})
	b.Push(runtime.TurnInput{Content: "second"})
	b.Push(runtime.TurnInput{Content: "third"})

	_, ok := b.Next(t.Context())
	require.True(t, ok)

	mu.Lock()
	assert.Equal(t, 0, idleCount, "idle must not fire on the first pull")
	mu.Unlock()

	_, ok = b.Next(t.Context())
	require.True(t, ok)

	mu.Lock()
	assert.Equal(t, 1, idleCount, "idle fires at the second pull")
	mu.Unlock()

	_, ok = b.Next(t.Context())
	require.True(t, ok)
	b.Close()
	_, _ = b.Next(t.Context())

	mu.Lock()
	assert.Equal(t, 1, idleCount, "idle fires exactly once")
	mu.Unlock()
}

func TestBridge_IdleFiresEvenWhenSuspending(t *testing.T) {
	idle := make(chan struct{}, 1)
	b := NewBridge(func() { idle <- struct{}{} })

	b.Push(runtime.TurnInput{Content: "first"})

	_, ok := b.Next(t.Context())
	require.True(t, ok)

	// Second pull has nothing buffered: idle must fire before suspending.
	go func() {
		_, _ = b.Next(context.Background())
	}()

	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("idle did not fire on the suspending second pull")
	}

	b.Close()
}

func TestBridge_CanceledContextEndsSequence(t *testing.T) {
	b := NewBridge(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := b.Next(ctx)
	assert.False(t, ok)
}

func TestBridge_RacedPushNotDropped(t *testing.T) {
	// A push that lands between cancellation and the consumer noticing must
	// still be delivered, not lost.
	for range 50 {
		b := NewBridge(nil)
		ctx, cancel := context.WithCancel(context.Background())

		result := make(chan pullResult, 1)
		go func() {
			input, ok := b.Next(ctx)
			result <- pullResult{input: input, ok: ok}
		}()

		time.Sleep(time.Millisecond)
		go cancel()
		b.Push(runtime.TurnInput{Content: "raced"})

		res := <-result
		if res.ok {
			assert.Equal(t, "raced", res.input.Content)
		} else {
			// Cancellation won the race; the push stays buffered for the
			// next pull instead of vanishing.
			input, ok := b.Next(t.Context())
			require.True(t, ok)
			assert.Equal(t, "raced", input.Content)
		}
	}
}
