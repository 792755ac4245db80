package eventlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(l *Log) {
	l.now = func() time.Time { return time.Date(2024, 5, 1, 9, 5, 7, 0, time.UTC) }
}

func TestRecordNewestFirst(t *testing.T) {
	l := New(0)
	fixedClock(l)

	l.Record("first")
	l.Recordf("second %d", 2)

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "[09:05:07] second 2", entries[0])
	assert.Equal(t, "[09:05:07] first", entries[1])
}

func TestCapDropsOldest(t *testing.T) {
	l := New(DefaultCapacity)
	fixedClock(l)

	for i := 0; i < DefaultCapacity+10; i++ {
		l.Recordf("event %d", i)
	}

	entries := l.Entries()
	require.Len(t, entries, DefaultCapacity)
	assert.Equal(t, fmt.Sprintf("[09:05:07] event %d", DefaultCapacity+9), entries[0])
	assert.Equal(t, "[09:05:07] event 10", entries[DefaultCapacity-1])
}

func TestEntriesIsCopy(t *testing.T) {
	l := New(3)
	l.Record("a")

	entries := l.Entries()
	entries[0] = "mutated"
	assert.NotEqual(t, "mutated", l.Entries()[0])
}

func TestConcurrentRecord(t *testing.T) {
	l := New(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Recordf("e%d", i)
			_ = l.Entries()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, l.Len())
}
