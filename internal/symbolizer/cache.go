package symbolizer

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheSize = 4096

// CachingResolver decorates a SymbolResolver with a bounded address cache.
// Concurrent lookups of the same uncached address share one resolution.
// Only resolved names are cached, so misses are retried on the next lookup.
type CachingResolver struct {
	resolver SymbolResolver
	cache    *lru.Cache[uint64, string]
	inflight singleflight.Group
}

func NewCachingResolver(resolver SymbolResolver, size int) (*CachingResolver, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid cache size %d; must be > 0", size)
	}
	cache, err := lru.New[uint64, string](size)
	if err != nil {
		return nil, err
	}
	return &CachingResolver{resolver: resolver, cache: cache}, nil
}

type resolution struct {
	name string
	ok   bool
}

func (c *CachingResolver) Resolve(addr uint64) (string, bool, error) {
	if name, ok := c.cache.Get(addr); ok {
		return name, true, nil
	}

	v, err, _ := c.inflight.Do(strconv.FormatUint(addr, 16), func() (interface{}, error) {
		// a lookup that completed between Get and Do already filled the cache
		if name, ok := c.cache.Get(addr); ok {
			return resolution{name: name, ok: true}, nil
		}
		name, ok, err := c.resolver.Resolve(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			c.cache.Add(addr, name)
		}
		return resolution{name: name, ok: ok}, nil
	})
	if err != nil {
		return "", false, err
	}
	res := v.(resolution)
	return res.name, res.ok, nil
}

func (c *CachingResolver) Len() int {
	return c.cache.Len()
}
