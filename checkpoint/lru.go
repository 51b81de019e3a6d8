package checkpoint

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// LRU is a Store wrapper that caches decoded records using LRU eviction.
// Writes go through to the underlying store. Records are copied in and out
// of the cache, so callers may modify what they load.
type LRU struct {
	underlying Store

	mu        sync.Mutex
	cache     map[uuid.UUID]*list.Element
	evictList *list.List
	maxSize   int
	hits      int
	misses    int
}

// NewLRU creates a cache of at most maxSize records in front of underlying.
// maxSize is the maximum number of entries to cache (0 or negative means
// the default of 1000).
func NewLRU(underlying Store, maxSize int) *LRU {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &LRU{
		underlying: underlying,
		cache:      make(map[uuid.UUID]*list.Element),
		evictList:  list.New(),
		maxSize:    maxSize,
	}
}

func (l *LRU) Save(r Record) error {
	if err := l.underlying.Save(r); err != nil {
		return err
	}
	l.mu.Lock()
	l.add(r)
	l.mu.Unlock()
	return nil
}

func (l *LRU) Load(id uuid.UUID) (Record, error) {
	l.mu.Lock()
	if elem, ok := l.cache[id]; ok {
		l.evictList.MoveToFront(elem)
		l.hits++
		r := elem.Value.(Record).Clone()
		l.mu.Unlock()
		return r, nil
	}
	l.misses++
	l.mu.Unlock()

	r, err := l.underlying.Load(id)
	if err != nil {
		return r, err
	}
	l.mu.Lock()
	l.add(r)
	l.mu.Unlock()
	return r, nil
}

func (l *LRU) Delete(id uuid.UUID) error {
	l.mu.Lock()
	l.remove(id)
	l.mu.Unlock()
	return l.underlying.Delete(id)
}

func (l *LRU) List() ([]uuid.UUID, error) {
	return l.underlying.List()
}

func (l *LRU) add(r Record) {
	r = r.Clone()
	if elem, ok := l.cache[r.ID]; ok {
		l.evictList.MoveToFront(elem)
		elem.Value = r
		return
	}
	l.cache[r.ID] = l.evictList.PushFront(r)
	if l.evictList.Len() > l.maxSize {
		if oldest := l.evictList.Back(); oldest != nil {
			l.remove(oldest.Value.(Record).ID)
		}
	}
}

func (l *LRU) remove(id uuid.UUID) {
	if elem, ok := l.cache[id]; ok {
		l.evictList.Remove(elem)
		delete(l.cache, id)
	}
}

// CacheStats reports the state of the cache.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int
	Misses  int
}

func (l *LRU) Stats() CacheStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CacheStats{
		Size:    len(l.cache),
		MaxSize: l.maxSize,
		Hits:    l.hits,
		Misses:  l.misses,
	}
}
