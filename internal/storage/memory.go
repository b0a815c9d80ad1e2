package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/atlas/pkg/common"
)

// MemoryLake keeps objects in a map. WriteHook, when set, runs before every
// write and can fail it.
type MemoryLake struct {
	mu        sync.RWMutex
	bucket    string
	objects   map[string][]byte
	created   bool
	WriteHook func(key string) error
}

func NewMemoryLake(bucket string) *MemoryLake {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &MemoryLake{bucket: bucket, objects: make(map[string][]byte)}
}

func (l *MemoryLake) Bucket() string { return l.bucket }

func (l *MemoryLake) EnsureBucket(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = true
	return nil
}

func (l *MemoryLake) List(ctx context.Context, prefix string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var keys []string
	for k := range l.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *MemoryLake) ReadJSON(ctx context.Context, key string, v any) error {
	l.mu.RLock()
	data, ok := l.objects[key]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrNotFound, key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (l *MemoryLake) WriteJSON(ctx context.Context, key string, v any) error {
	if l.WriteHook != nil {
		if err := l.WriteHook(key); err != nil {
			return err
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.objects[key] = data
	return nil
}

func (l *MemoryLake) CreateJSON(ctx context.Context, key string, v any) error {
	if l.WriteHook != nil {
		if err := l.WriteHook(key); err != nil {
			return err
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.objects[key]; ok {
		return fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	l.objects[key] = data
	return nil
}

func (l *MemoryLake) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.objects, key)
	return nil
}

// Has reports whether key exists.
func (l *MemoryLake) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.objects[key]
	return ok
}

// BucketCreated reports whether EnsureBucket ran.
func (l *MemoryLake) BucketCreated() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.created
}
