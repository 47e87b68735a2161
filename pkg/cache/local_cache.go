package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// LocalCache is the in-process (L1) cache. Cost is the value size in bytes.
type LocalCache struct {
	c *ristretto.Cache[string, []byte]
}

func NewLocalCache(maxCostBytes int64) (*LocalCache, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 8 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &LocalCache{c: c}, nil
}

func (c *LocalCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

// Set is eventually consistent: the value may not be visible until buffered writes drain.
func (c *LocalCache) Set(key string, value []byte, ttl time.Duration) bool {
	return c.c.SetWithTTL(key, value, int64(len(value)), ttl)
}

// Wait blocks until buffered writes are applied.
func (c *LocalCache) Wait() {
	c.c.Wait()
}

func (c *LocalCache) Delete(key string) {
	c.c.Del(key)
}

func (c *LocalCache) Close() {
	c.c.Close()
}
