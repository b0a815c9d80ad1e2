// Package source defines the capability contracts of external company and
// people providers and the shared HTTP plumbing their adapters use.
package source

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/ratelimit"
)

// DirectorySource maps a text query to companies. Every returned company
// carries a source-prefixed id and a non-empty domain.
type DirectorySource interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]common.Company, error)
}

// PeopleSource maps a company domain to contact persons. Provider failures
// produce an empty list, never an error, except when ctx is done.
type PeopleSource interface {
	Name() string
	FindByCompanyDomain(ctx context.Context, domain string) ([]common.Person, error)
}

// Config is what every adapter constructor receives.
type Config struct {
	APIKey     string
	BaseURL    string
	Limiter    *ratelimit.Limiter
	MaxWait    time.Duration
	Timeout    time.Duration
	RetryDelay time.Duration
	HTTPClient *http.Client
}

type DirectoryFactory func(Config) (DirectorySource, error)
type PeopleFactory func(Config) (PeopleSource, error)

// Registry maps provider keys to adapter constructors.
type Registry struct {
	mu          sync.RWMutex
	directories map[string]DirectoryFactory
	people      map[string]PeopleFactory
}

func NewRegistry() *Registry {
	return &Registry{
		directories: make(map[string]DirectoryFactory),
		people:      make(map[string]PeopleFactory),
	}
}

func (r *Registry) RegisterDirectory(key string, f DirectoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directories[key] = f
}

func (r *Registry) RegisterPeople(key string, f PeopleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.people[key] = f
}

func (r *Registry) Directory(key string, cfg Config) (DirectorySource, error) {
	r.mu.RLock()
	f, ok := r.directories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown directory source %q (known: %v)", common.ErrConfiguration, key, r.keys(true))
	}
	return f(cfg)
}

func (r *Registry) People(key string, cfg Config) (PeopleSource, error) {
	r.mu.RLock()
	f, ok := r.people[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown people source %q (known: %v)", common.ErrConfiguration, key, r.keys(false))
	}
	return f(cfg)
}

func (r *Registry) keys(directories bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	if directories {
		for k := range r.directories {
			out = append(out, k)
		}
	} else {
		for k := range r.people {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeConfidence maps a provider confidence onto the integer 0..100
// scale. fractional declares that the provider reports 0..1.
func NormalizeConfidence(v float64, fractional bool) *int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	if fractional {
		v *= 100
	}
	n := int(math.Round(v))
	n = max(0, min(100, n))
	return &n
}
