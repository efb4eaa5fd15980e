// Package keymutex serializes work per key with a fixed set of lock stripes.
package keymutex

import (
	"hash/fnv"
	"sync"
)

// Striped maps every key onto one of a fixed number of mutexes. Two keys may
// share a stripe; the same key always maps to the same one.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped with n stripes (at least one).
func New(n int) *Striped {
	if n < 1 {
		n = 1
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

// Lock locks key's stripe and returns the matching unlock.
func (s *Striped) Lock(key string) (unlock func()) {
	m := s.stripe(key)
	m.Lock()
	return m.Unlock
}
