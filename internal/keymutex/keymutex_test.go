package keymutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStriped_SerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := New(8)
	counter := map[string]*int{"a": new(int), "b": new(int)}
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b"}[i%2]
			unlock := locks.Lock(key)
			defer unlock()
			*counter[key]++
		}(i)
	}
	wg.Wait()
	require.Equal(t, 100, *counter["a"])
	require.Equal(t, 100, *counter["b"])
}

func TestStriped_SameKeySameStripe(t *testing.T) {
	t.Parallel()

	locks := New(0)
	require.Len(t, locks.stripes, 1)

	locks = New(16)
	require.Same(t, locks.stripe("auction-1"), locks.stripe("auction-1"))
}
