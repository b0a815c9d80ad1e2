package leaselock

import (
	"context"
	"sync"
	"time"
)

type memLease struct {
	token   string
	expires time.Time
}

// MemoryBackend holds leases in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	leases map[string]memLease
	now    func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{leases: make(map[string]memLease), now: time.Now}
}

func (b *MemoryBackend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if cur, ok := b.leases[key]; ok && cur.token != token && cur.expires.After(now) {
		return false, nil
	}
	b.leases[key] = memLease{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (b *MemoryBackend) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.leases[key]
	if !ok || cur.token != token {
		return false, nil
	}
	b.leases[key] = memLease{token: token, expires: b.now().Add(ttl)}
	return true, nil
}

func (b *MemoryBackend) Release(ctx context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.leases[key]; ok && cur.token == token {
		delete(b.leases, key)
	}
	return nil
}

// Steal hands key to another holder, as if the lease had expired and been
// taken over.
func (b *MemoryBackend) Steal(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leases[key] = memLease{token: "stolen", expires: b.now().Add(time.Hour)}
}
