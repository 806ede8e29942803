package utils_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segalloc/internal/utils"
)

func TestOptionalRWMutexDisabled(t *testing.T) {
	var mutex utils.OptionalRWMutex
	require.False(t, mutex.Enabled())

	// Re-entrant use only works because nothing is locked
	mutex.Lock()
	mutex.Lock()
	mutex.RLock()
	mutex.RUnlock()
	mutex.Unlock()
	mutex.Unlock()
}

func TestOptionalRWMutexEnabled(t *testing.T) {
	var mutex utils.OptionalRWMutex
	mutex.Init(true)
	require.True(t, mutex.Enabled())

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	mutex.RLock()
	defer mutex.RUnlock()
	require.Equal(t, 8000, counter)
}
