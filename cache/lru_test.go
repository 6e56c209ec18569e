package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUEviction(t *testing.T) {
	c := NewLRU[int](2, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	_, ok := c.Get("a") // a becomes most recent
	assert.True(t, ok)
	c.Set("c", 3, 0)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewLRU[string](4, 10*time.Second)
	c.now = func() time.Time { return now }

	c.Set("default", "x", 0)
	c.Set("short", "y", time.Second)

	now = now.Add(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("default")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len(), "expired entries are removed on access")

	now = now.Add(10 * time.Second)
	_, ok = c.Get("default")
	assert.False(t, ok)
}

func TestLRUUpdateDeletePurge(t *testing.T) {
	c := NewLRU[int](0, 0)
	c.Set("k", 1, 0)
	c.Set("k", 2, 0)
	v, _ := c.Get("k")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())

	c.Delete("k")
	c.Delete("missing")
	assert.Zero(t, c.Len())

	c.Set("a", 1, 0)
	c.Purge()
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUConcurrentAccess(t *testing.T) {
	var c Cache[int] = NewLRU[int](16, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i+j)%32)
				c.Set(key, j, 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
