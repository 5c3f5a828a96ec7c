package cache

/*

Values are never modified once stored. Lookup only goes through the lru
internal lock, Insert and Purge are additionally serialized by mu so a purge
can not remove an entry replaced after it was inspected.

*/

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const (
	defaultSize = 4096
)

type Config struct {
	Enable bool
	Size   int           // max number of entries, defaultSize when <= 0
	MaxTTL time.Duration // upper bound of entry lifetime, unlimited when <= 0
}

type entry struct {
	response []byte
	stored   time.Time
	expires  time.Time
}

type Cache struct {
	enable bool
	maxTTL time.Duration

	mu  sync.Mutex
	lru *lru.Cache[string, *entry]

	now func() time.Time
}

func New(config Config) (*Cache, error) {
	c := &Cache{
		enable: config.Enable,
		maxTTL: config.MaxTTL,
		now:    time.Now,
	}

	if !c.enable {
		return c, nil
	}

	size := config.Size
	if size <= 0 {
		size = defaultSize
	}

	var err error
	if c.lru, err = lru.New[string, *entry](size); err != nil {
		return nil, errors.Wrapf(err, "new lru size=%d", size)
	}

	return c, nil
}

func (c *Cache) Enabled() bool {
	return c.enable
}

// Lookup returns a copy of the response stored for key and how long ago it was
// stored. An expired entry is reported as a miss.
func (c *Cache) Lookup(key string) ([]byte, time.Duration, bool) {
	if !c.enable {
		return nil, 0, false
	}

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, 0, false
	}

	now := c.now()
	if !e.expires.After(now) {
		return nil, 0, false
	}

	response := make([]byte, len(e.response))
	copy(response, e.response)

	return response, now.Sub(e.stored), true
}

// Insert stores a copy of response for ttl seconds, replacing any previous
// entry of key. A zero ttl stores nothing.
func (c *Cache) Insert(key string, response []byte, ttl uint32) {
	if !c.enable || ttl == 0 || len(response) == 0 {
		return
	}

	lifetime := time.Duration(ttl) * time.Second
	if c.maxTTL > 0 && lifetime > c.maxTTL {
		lifetime = c.maxTTL
	}

	now := c.now()
	e := &entry{
		response: make([]byte, len(response)),
		stored:   now,
		expires:  now.Add(lifetime),
	}
	copy(e.response, response)

	c.mu.Lock()
	c.lru.Add(key, e)
	c.mu.Unlock()
}

// Purge removes expired entries, return the number removed.
func (c *Cache) Purge() int {
	if !c.enable {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var n int
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && !e.expires.After(now) {
			c.lru.Remove(key)
			n++
		}
	}

	return n
}

func (c *Cache) Len() int {
	if !c.enable {
		return 0
	}
	return c.lru.Len()
}
