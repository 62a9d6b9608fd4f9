package history

import (
	"container/list"
	"sync"
)

// LRUStore keeps the most recent records in memory and writes through to a
// backing Store. Loads that miss the cache fall back to the backing store and
// promote the record. A nil backing store makes the LRU memory-only.
type LRUStore struct {
	mu    sync.Mutex
	cap   int
	back  Store
	order *list.List // of *Record, most recent at front
	items map[string]*list.Element
}

var _ Lister = (*LRUStore)(nil)

// NewLRUStore creates an LRU cache with the given capacity. Capacity must be
// >= 1; smaller values are raised to 1.
func NewLRUStore(cap int, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		back:  back,
		order: list.New(),
		items: make(map[string]*list.Element, cap),
	}
}

// Save caches rec and writes it to the backing store.
func (s *LRUStore) Save(rec *Record) error {
	s.put(rec)
	if s.back == nil {
		return nil
	}
	return s.back.Save(rec)
}

// Load returns the cached record, or loads and caches it from the backing
// store.
func (s *LRUStore) Load(id string) (*Record, error) {
	s.mu.Lock()
	if e, ok := s.items[id]; ok {
		s.order.MoveToFront(e)
		rec := e.Value.(*Record)
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	if s.back == nil {
		return nil, ErrNotFound
	}
	rec, err := s.back.Load(id)
	if err != nil {
		return nil, err
	}
	s.put(rec)
	return rec, nil
}

// Recent returns up to n cached records, most recent first.
func (s *LRUStore) Recent(n int) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > s.order.Len() {
		n = s.order.Len()
	}
	out := make([]*Record, 0, n)
	for e := s.order.Front(); e != nil && len(out) < n; e = e.Next() {
		out = append(out, e.Value.(*Record))
	}
	return out
}

func (s *LRUStore) put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[rec.ID]; ok {
		e.Value = rec
		s.order.MoveToFront(e)
		return
	}
	s.items[rec.ID] = s.order.PushFront(rec)
	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*Record).ID)
	}
}
