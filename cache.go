package ledger

import (
	"container/list"
	"sync"
)

type (
	// stateCache keeps the most recently folded state of a bounded number
	// of streams. Entries are advisory: a stale entry is caught up from the
	// store before use and dropped on conflict
	stateCache[T any] struct {
		entries map[StreamName]*list.Element
		lru     *list.List
		maxSize int
		mu      sync.Mutex
	}

	folded[T any] struct {
		state    T
		stream   StreamName
		version  int64
		position uint64
	}
)

func newStateCache[T any](maxSize int) *stateCache[T] {
	if maxSize <= 0 {
		maxSize = DefaultExecutorCacheSize
	}
	return &stateCache[T]{
		entries: map[StreamName]*list.Element{},
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func (c *stateCache[T]) get(stream StreamName) (*folded[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[stream]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*folded[T]), true
}

// put stores f unless a newer version of the stream is already cached
func (c *stateCache[T]) put(f *folded[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[f.stream]; ok {
		if elem.Value.(*folded[T]).version <= f.version {
			elem.Value = f
		}
		c.lru.MoveToFront(elem)
		return
	}

	c.entries[f.stream] = c.lru.PushFront(f)
	if c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		c.lru.Remove(back)
		delete(c.entries, back.Value.(*folded[T]).stream)
	}
}

func (c *stateCache[T]) remove(stream StreamName) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[stream]; ok {
		c.lru.Remove(elem)
		delete(c.entries, stream)
	}
}
