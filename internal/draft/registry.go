package draft

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCapacity = 100000
	DefaultTTL      = time.Hour
)

// Config bounds the registry. Entries expire TTL after creation; once
// Capacity is reached the least recently used draft is evicted.
type Config struct {
	Capacity int
	TTL      time.Duration
}

// Registry keeps at most one draft per chat.
type Registry struct {
	mu    sync.Mutex
	cache *expirable.LRU[int64, *Draft]
	now   func() time.Time
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Registry{
		cache: expirable.NewLRU[int64, *Draft](cfg.Capacity, nil, cfg.TTL),
		now:   time.Now,
	}
}

// Create starts a new draft for chatID.
func (r *Registry) Create(chatID int64) (Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache.Get(chatID); ok {
		return Draft{}, ErrAlreadyInProcess
	}
	d := &Draft{ChatID: chatID, CreatedAt: r.now()}
	r.cache.Add(chatID, d)
	return *d, nil
}

func (r *Registry) Current(chatID int64) (Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.cache.Get(chatID)
	if !ok {
		return Draft{}, false
	}
	return *d, true
}

func (r *Registry) Pop(chatID int64) (Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.cache.Get(chatID)
	if !ok {
		return Draft{}, false
	}
	r.cache.Remove(chatID)
	return *d, true
}

// PopIf removes and returns the draft of chatID when check accepts it. A
// rejected draft stays in place and check's error is returned.
func (r *Registry) PopIf(chatID int64, check func(Draft) error) (Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.cache.Get(chatID)
	if !ok {
		return Draft{}, ErrDraftNotFound
	}
	if err := check(*d); err != nil {
		return *d, err
	}
	r.cache.Remove(chatID)
	return *d, nil
}

// Restore puts back a popped draft unless its chat already started a new
// one. The restored draft gets a fresh TTL.
func (r *Registry) Restore(d Draft) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache.Get(d.ChatID); ok {
		return false
	}
	r.cache.Add(d.ChatID, &d)
	return true
}

// Update applies fn to the live draft of chatID. When fn fails the stored
// draft keeps its previous state.
func (r *Registry) Update(chatID int64, fn func(d *Draft) error) (Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.cache.Get(chatID)
	if !ok {
		return Draft{}, ErrDraftNotFound
	}
	next := *d
	if err := fn(&next); err != nil {
		return *d, err
	}
	*d = next
	return next, nil
}

// Len reports the number of live drafts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
