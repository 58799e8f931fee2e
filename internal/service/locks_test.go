package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterLocks(t *testing.T) {
	l := NewClusterLocks()

	assert.True(t, l.TryAcquire(1, "deploy"))
	assert.False(t, l.TryAcquire(1, "reset"))
	assert.True(t, l.TryAcquire(2, "reset"))
	assert.Equal(t, 2, l.Held())

	assert.False(t, l.Release(1, "reset"), "only the holder releases")
	assert.False(t, l.Transfer(1, "reset", "stop"))
	assert.True(t, l.Transfer(1, "deploy", "stop"))

	holder, held := l.Holder(1)
	assert.True(t, held)
	assert.Equal(t, "stop", holder)

	assert.False(t, l.Release(1, "deploy"))
	assert.True(t, l.Release(1, "stop"))
	_, held = l.Holder(1)
	assert.False(t, held)
	assert.Equal(t, 1, l.Held())
}

func TestClusterLocksSingleWinner(t *testing.T) {
	l := NewClusterLocks()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if l.TryAcquire(7, string(rune('a'+i%26))+"-holder") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestKeyedMutexSerializes(t *testing.T) {
	k := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("node:1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)

	k.mu.Lock()
	assert.Empty(t, k.locks, "idle keys are reclaimed")
	k.mu.Unlock()
}
