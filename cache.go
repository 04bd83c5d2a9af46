package ext2

// Handle is a pinning reference into a cache: instead of the caller
// receiving a raw pointer it must remember to release through a separate
// put_blk call on the right cache, it receives this handle and calls
// Release on it directly. Release must be called exactly once.
type Handle[T cacheItem] struct {
	c   *cache[T]
	idx int
}

func (h *Handle[T]) Value() T        { return h.c.value(h.idx) }
func (h *Handle[T]) Release() error  { return h.c.put(h.idx) }

// cacheItem is implemented by whatever a cache[T] stores. writeback
// persists the item if it is dirty. The only item type in this package is
// the raw block, whose writeback writes it to the backing store.
type cacheItem interface {
	writeback() error
}

type cacheSlot[T cacheItem] struct {
	key      uint32
	value    T
	useCount int
}

// cache is a fixed-upper-bound, pinning, key-addressed cache, used in
// this package for the one cache of raw blocks: a hash index from
// key to arena slot (here, a plain Go map — there is no need to hand-roll
// the original's 256-bucket table once the language has one built in),
// an arena of slots reused via a free list, and an lruList tracking which
// slots currently have a use-count of zero and are therefore eligible for
// eviction. Adding a new entry evicts down to maxFree unused entries,
// same as the original's cache_add.
type cache[T cacheItem] struct {
	name    string
	maxFree int

	slots []cacheSlot[T]
	free  []int
	index map[uint32]int

	lru *lruList
}

func newCache[T cacheItem](name string, maxFree int) *cache[T] {
	return &cache[T]{
		name:    name,
		maxFree: maxFree,
		index:   make(map[uint32]int),
		lru:     newLRUList(),
	}
}

// getHandle is get, wrapped in a Handle for callers that want Release
// instead of bookkeeping a bare slot index themselves.
func (c *cache[T]) getHandle(key uint32, load func() (T, error)) (*Handle[T], error) {
	idx, err := c.get(key, load)
	if err != nil {
		return nil, err
	}
	return &Handle[T]{c: c, idx: idx}, nil
}

// get returns the arena slot index holding key, pinning it (incrementing
// its use-count). On a miss, load is called to produce the value.
func (c *cache[T]) get(key uint32, load func() (T, error)) (int, error) {
	if i, ok := c.index[key]; ok {
		c.lru.unlink(i)
		c.slots[i].useCount++
		return i, nil
	}

	v, err := load()
	if err != nil {
		return -1, err
	}

	var i int
	if n := len(c.free); n > 0 {
		i = c.free[n-1]
		c.free = c.free[:n-1]
		c.slots[i] = cacheSlot[T]{key: key, value: v, useCount: 1}
	} else {
		i = len(c.slots)
		c.slots = append(c.slots, cacheSlot[T]{key: key, value: v, useCount: 1})
		c.lru.grow(i)
	}
	c.index[key] = i

	if err := c.evictExcess(); err != nil {
		return -1, err
	}
	return i, nil
}

// value returns the current slot value; idx must come from a live get().
func (c *cache[T]) value(idx int) T {
	return c.slots[idx].value
}

// put releases one pin on idx. Releasing an entry with a zero use-count
// is a programmer error in this package and reported as ErrCachePinned
// rather than made fatal, so callers in a larger program can still
// recover or report context.
func (c *cache[T]) put(idx int) error {
	s := &c.slots[idx]
	if s.useCount == 0 {
		return ErrCachePinned
	}
	s.useCount--
	if s.useCount == 0 {
		c.lru.pushTail(idx)
	}
	return nil
}

// evictExcess writes back and frees unused entries until at most maxFree
// remain on the LRU list.
func (c *cache[T]) evictExcess() error {
	for c.lru.count > c.maxFree {
		i := c.lru.popHead()
		s := &c.slots[i]
		if err := s.value.writeback(); err != nil {
			return err
		}
		delete(c.index, s.key)
		var zero T
		s.value = zero
		c.free = append(c.free, i)
	}
	return nil
}

// inUse reports the number of entries currently pinned (use-count > 0).
func (c *cache[T]) inUse() int {
	return len(c.index) - c.lru.count
}

// flush forces every currently-unused entry to write back and evicts it.
// Entries still pinned are left untouched; callers check inUse() after
// flush to decide whether finalization can proceed.
func (c *cache[T]) flush() error {
	for c.lru.count > 0 {
		i := c.lru.popHead()
		s := &c.slots[i]
		if err := s.value.writeback(); err != nil {
			return err
		}
		delete(c.index, s.key)
		var zero T
		s.value = zero
		c.free = append(c.free, i)
	}
	return nil
}
