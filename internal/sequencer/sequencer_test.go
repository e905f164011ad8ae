package sequencer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTasksHeldUntilStartProcessing(t *testing.T) {
	p := New(nil)
	defer p.Stop()

	var mu sync.Mutex
	var ran []int
	for i := 0; i < 3; i++ {
		i := i
		p.Submit(func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		})
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Empty(t, ran, "tasks must not run before StartProcessing")
	mu.Unlock()

	p.StartProcessing()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 3
	})
	assert.Equal(t, []int{0, 1, 2}, ran)
}

func TestSubmissionOrderPreserved(t *testing.T) {
	p := New(nil)
	defer p.Stop()
	p.StartProcessing()
	p.StartProcessing() // idempotent

	const n = 200
	var mu sync.Mutex
	var ran []int
	for i := 0; i < n; i++ {
		i := i
		p.Submit(func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == n
	})
	for i, v := range ran {
		require.Equal(t, i, v, "task %d ran out of order", i)
	}
}

func TestSingleTaskAtATime(t *testing.T) {
	p := New(nil)
	defer p.Stop()
	p.StartProcessing()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestStopDropsPendingAndLaterSubmissions(t *testing.T) {
	p := New(nil)
	var ran int
	p.Submit(func() { ran++ })
	p.Stop()
	p.StartProcessing()
	p.Submit(func() { ran++ })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, ran)
}
