package feed

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds recently served pages. Keys embed the index generation, so a
// mutation makes every older entry unreachable and they age out.
type Cache struct {
	pages *lru.Cache[string, Page]
}

// NewCache returns nil when size <= 0.
func NewCache(size int) *Cache {
	if size <= 0 {
		return nil
	}
	pages, err := lru.New[string, Page](size)
	if err != nil {
		return nil
	}
	return &Cache{pages: pages}
}

func (c *Cache) Get(key string) (Page, bool) {
	return c.pages.Get(key)
}

func (c *Cache) Add(key string, page Page) {
	c.pages.Add(key, page)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.pages.Purge()
}

func (c *Cache) Len() int {
	return c.pages.Len()
}
