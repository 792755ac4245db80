package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestHeartbeatCreatesOnce(t *testing.T) {
	r := New(0)

	assert.True(t, r.Heartbeat("aa:bb", t0), "first heartbeat should create the worker")
	assert.False(t, r.Heartbeat("aa:bb", t0.Add(time.Second)), "second heartbeat should not create")
	assert.Equal(t, 1, r.Len())

	snap := r.Snapshot(t0.Add(time.Second))
	require.Len(t, snap, 1)
	assert.Equal(t, t0.Add(time.Second), snap[0].LastHeartbeat)
	assert.Equal(t, 0, snap[0].CompletedCount)
}

func TestIncrementCompleted(t *testing.T) {
	r := New(0)
	r.Heartbeat("w1", t0)

	r.IncrementCompleted("w1")
	r.IncrementCompleted("w1")
	r.IncrementCompleted("ghost")

	snap := r.Snapshot(t0)
	require.Len(t, snap, 1, "unknown worker must not be created by a completion")
	assert.Equal(t, 2, snap[0].CompletedCount)
	assert.False(t, r.Known("ghost"))
}

func TestLivenessDerivation(t *testing.T) {
	tests := []struct {
		name   string
		age    time.Duration
		online bool
	}{
		{"5s ago is online", 5 * time.Second, true},
		{"just below threshold", DefaultLivenessThreshold - time.Millisecond, true},
		{"exactly at threshold is offline", DefaultLivenessThreshold, false},
		{"just above threshold", DefaultLivenessThreshold + time.Millisecond, false},
		{"15s ago is offline", 15 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(DefaultLivenessThreshold)
			r.Heartbeat("w", t0)

			snap := r.Snapshot(t0.Add(tt.age))
			require.Len(t, snap, 1)
			assert.Equal(t, tt.online, snap[0].Online)
			assert.Equal(t, int64(tt.age/time.Second), snap[0].SecondsAgo)

			want := 0
			if tt.online {
				want = 1
			}
			assert.Equal(t, want, r.OnlineCount(t0.Add(tt.age)))
		})
	}
}

func TestSnapshotSortedAndDetached(t *testing.T) {
	r := New(0)
	for _, id := range []string{"c", "a", "b"} {
		r.Heartbeat(id, t0)
	}

	snap := r.Snapshot(t0)
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})

	// 修改快照不影響登錄表
	snap[0].CompletedCount = 99
	assert.Equal(t, 0, r.Snapshot(t0)[0].CompletedCount)
}

func TestSetThreshold(t *testing.T) {
	r := New(0)
	assert.Equal(t, DefaultLivenessThreshold, r.Threshold())

	r.SetThreshold(30 * time.Second)
	assert.Equal(t, 30*time.Second, r.Threshold())

	r.SetThreshold(-1)
	assert.Equal(t, 30*time.Second, r.Threshold(), "non-positive threshold is ignored")

	r.Heartbeat("w", t0)
	assert.Equal(t, 1, r.OnlineCount(t0.Add(20*time.Second)))
}

func TestConcurrentHeartbeats(t *testing.T) {
	r := New(0)
	var wg sync.WaitGroup
	created := make(chan string, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("w-%d", i%10)
			if r.Heartbeat(id, t0) {
				created <- id
			}
			r.IncrementCompleted(id)
		}(i)
	}
	wg.Wait()
	close(created)

	seen := make(map[string]int)
	for id := range created {
		seen[id]++
	}
	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, "worker %s created more than once", id)
	}

	total := 0
	for _, w := range r.Snapshot(t0) {
		total += w.CompletedCount
	}
	assert.Equal(t, 100, total)
}
