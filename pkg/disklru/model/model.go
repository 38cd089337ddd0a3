// Package model defines an in-memory oracle for the cache's observable
// behavior.
//
// This is the source of truth for what correct behavior looks like: the
// same operations applied to this model and to the real cache must produce
// the same observable results. Property tests drive both and compare.
//
// Design principles:
//
//   - Simple over performant. Readability and obviousness matter more than
//     loop efficiency or allocations. The code should be obviously correct
//     by inspection.
//
//   - No dependencies beyond the standard library.
//
//   - Panics indicate bugs in the model itself (invariant violations).
//     Booleans report outcomes the real implementation also reports.
//
// The model ignores filesystem failure modes entirely: it describes the
// happy-path semantics (validation, LRU order, eviction, sizes) that hold
// when the disk cooperates.
package model

import "regexp"

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

// entry is one published key with its values.
type entry struct {
	key    string
	values []string
}

func (e *entry) size() int64 {
	var n int64
	for _, v := range e.values {
		n += int64(len(v))
	}

	return n
}

// Cache is the in-memory oracle.
//
// Not safe for concurrent use; property tests drive it sequentially.
type Cache struct {
	valueCount int
	maxSize    int64

	// order holds published keys, least recently used first.
	order []*entry
}

// New creates an oracle with the given arity and byte budget.
// Panics on non-positive arguments (the real cache rejects them in Open).
func New(valueCount int, maxSize int64) *Cache {
	if valueCount <= 0 {
		panic("valueCount must be positive")
	}

	if maxSize <= 0 {
		panic("maxSize must be positive")
	}

	return &Cache{
		valueCount: valueCount,
		maxSize:    maxSize,
	}
}

// ValidKey reports whether the real cache accepts the key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

func (c *Cache) find(key string) int {
	for i, e := range c.order {
		if e.key == key {
			return i
		}
	}

	return -1
}

func (c *Cache) touch(i int) *entry {
	e := c.order[i]
	c.order = append(c.order[:i], c.order[i+1:]...)
	c.order = append(c.order, e)

	return e
}

// Get returns a copy of the values and touches the entry.
func (c *Cache) Get(key string) ([]string, bool) {
	if !ValidKey(key) {
		panic("Get called with invalid key")
	}

	i := c.find(key)
	if i < 0 {
		return nil, false
	}

	e := c.touch(i)

	values := make([]string, len(e.values))
	copy(values, e.values)

	return values, true
}

// Put publishes values for key, replacing any previous version, then
// evicts down to the budget.
// Panics unless exactly valueCount values are given.
func (c *Cache) Put(key string, values []string) {
	if !ValidKey(key) {
		panic("Put called with invalid key")
	}

	if len(values) != c.valueCount {
		panic("Put called with wrong arity")
	}

	copied := make([]string, len(values))
	copy(copied, values)

	if i := c.find(key); i >= 0 {
		c.touch(i).values = copied
	} else {
		c.order = append(c.order, &entry{key: key, values: copied})
	}

	c.evict()
}

// Update publishes values only for the given indices, keeping previous
// values elsewhere. The entry must already exist (a partial put of a new
// key fails in the real cache).
func (c *Cache) Update(key string, values map[int]string) {
	i := c.find(key)
	if i < 0 {
		panic("Update called for absent key")
	}

	e := c.touch(i)

	for idx, v := range values {
		if idx < 0 || idx >= c.valueCount {
			panic("Update index out of range")
		}

		e.values[idx] = v
	}

	c.evict()
}

// Remove drops the entry. Returns false if absent.
func (c *Cache) Remove(key string) bool {
	if !ValidKey(key) {
		panic("Remove called with invalid key")
	}

	i := c.find(key)
	if i < 0 {
		return false
	}

	c.order = append(c.order[:i], c.order[i+1:]...)

	return true
}

// SetMaxSize updates the budget and evicts down to it.
func (c *Cache) SetMaxSize(maxSize int64) {
	if maxSize <= 0 {
		panic("maxSize must be positive")
	}

	c.maxSize = maxSize
	c.evict()
}

// Size returns the summed byte length over all entries.
func (c *Cache) Size() int64 {
	var n int64
	for _, e := range c.order {
		n += e.size()
	}

	return n
}

// Keys returns the keys in LRU order, least recently used first.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, len(c.order))
	for _, e := range c.order {
		keys = append(keys, e.key)
	}

	return keys
}

// evict drops least-recently-used entries until the budget holds.
func (c *Cache) evict() {
	for c.Size() > c.maxSize {
		if len(c.order) == 0 {
			panic("size positive with no entries")
		}

		c.order = c.order[1:]
	}
}
