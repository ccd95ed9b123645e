package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	// 容量不变，最旧条目被淘汰
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
}

func TestRingLatest(t *testing.T) {
	r := NewRing[string](2)

	_, ok := r.Latest()
	assert.False(t, ok)

	r.Push("a")
	r.Push("b")
	r.Push("c")

	v, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestRingClear(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)

	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())
}

func TestRingBoundedUnderLoad(t *testing.T) {
	r := NewRing[int](100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
	assert.Len(t, r.Items(), 100)
}
