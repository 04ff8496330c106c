package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxPreservesOrder(t *testing.T) {
	m := New[int]()
	done := make(chan struct{})
	defer close(done)

	var mu sync.Mutex
	var got []int
	go m.Run(done, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		require.True(t, m.Push(i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestMailboxClosedRejectsPush(t *testing.T) {
	m := New[string]()
	m.Push("a")
	m.Close()

	assert.False(t, m.Push("b"))
	assert.Empty(t, m.Drain())
	assert.Equal(t, 0, m.Len())
}

func TestMailboxRunStopsOnDone(t *testing.T) {
	m := New[int]()
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		m.Run(done, func(int) {})
		close(exited)
	}()

	close(done)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after done was closed")
	}
}
