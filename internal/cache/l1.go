package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// l1Cache wraps ristretto as the fast in-memory tier. Entries are stored by
// pointer; ristretto handles eviction and admission itself, so this wrapper
// only needs to compose the (service, keyHash) pair into one cache key.
type l1Cache struct {
	c *ristretto.Cache
}

func newL1Cache(maxItems int64) (*l1Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &l1Cache{c: c}, nil
}

func l1Key(service, keyHash string) string {
	return service + "\x00" + keyHash
}

func (l *l1Cache) get(service, keyHash string) (*model.CacheEntry, bool) {
	v, ok := l.c.Get(l1Key(service, keyHash))
	if !ok {
		return nil, false
	}
	entry, ok := v.(*model.CacheEntry)
	return entry, ok
}

func (l *l1Cache) put(service, keyHash string, entry *model.CacheEntry) {
	l.c.Set(l1Key(service, keyHash), entry, 1)
}

func (l *l1Cache) delete(service, keyHash string) {
	l.c.Del(l1Key(service, keyHash))
}
