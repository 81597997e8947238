package service

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	createdAt time.Time
	ttl       time.Duration
}

// Cache — TTL + LRU с жёстким потолком по числу записей.
// Протухшая запись невидима для Get и выметается по пути.
// Кэшируем только идемпотентные чтения; запись ордеров сюда не попадает.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List // front — самая свежая по доступу
	items      map[string]*list.Element
	now        func() time.Time

	hits   int64
	misses int64
}

func New(maxEntries int) *Cache {
	return NewAt(maxEntries, time.Now)
}

func NewAt(maxEntries int, now func() time.Time) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        now,
	}
}

// Get — значение или промах. Хит обновляет last_accessed (перенос в голову LRU).
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := el.Value.(*entry)
	if c.now().Sub(e.createdAt) >= e.ttl {
		// протухла — убираем по пути
		c.removeLocked(el)
		c.misses++
		return nil, false
	}

	c.ll.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put — вставка с вытеснением least-recently-used при заполнении.
// Потолок maxEntries не нарушается никогда.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.createdAt = now
		e.ttl = ttl
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.maxEntries {
		if back := c.ll.Back(); back != nil {
			c.removeLocked(back)
		}
	}

	el := c.ll.PushFront(&entry{key: key, value: value, createdAt: now, ttl: ttl})
	c.items[key] = el
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats — счётчики для наблюдаемости; к корректности отношения не имеют.
type Stats struct {
	Size    int     `json:"size"`
	Max     int     `json:"max_size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"` // в процентах
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Size:    c.ll.Len(),
		Max:     c.maxEntries,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// Manager — именованные кэши (tickers, balance, meta) с общим потолком каждого.
type Manager struct {
	mu         sync.Mutex
	caches     map[string]*Cache
	maxEntries int
}

func NewManager(maxEntries int) *Manager {
	return &Manager{
		caches:     make(map[string]*Cache),
		maxEntries: maxEntries,
	}
}

func (m *Manager) Cache(name string) *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caches[name]; ok {
		return c
	}
	c := New(m.maxEntries)
	m.caches[name] = c
	return c
}

func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.caches))
	for name, c := range m.caches {
		out[name] = c.Stats()
	}
	return out
}
