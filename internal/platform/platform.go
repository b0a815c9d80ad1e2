// Package platform builds the process-wide clients once and closes them on
// shutdown. Every accessor constructs its client on first use.
package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/OFFIS-RIT/atlas/internal/queue"
	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/ai"
	"github.com/OFFIS-RIT/atlas/pkg/ai/ollama"
	"github.com/OFFIS-RIT/atlas/pkg/ai/openai"
	"github.com/OFFIS-RIT/atlas/pkg/cache"
	"github.com/OFFIS-RIT/atlas/pkg/etl"
	"github.com/OFFIS-RIT/atlas/pkg/leaselock"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/query"
	"github.com/OFFIS-RIT/atlas/pkg/ratelimit"
	"github.com/OFFIS-RIT/atlas/pkg/source"
	"github.com/OFFIS-RIT/atlas/pkg/source/apollo"
	"github.com/OFFIS-RIT/atlas/pkg/source/hunter"
	"github.com/OFFIS-RIT/atlas/pkg/source/places"
	"github.com/OFFIS-RIT/atlas/pkg/store"
	pgxstore "github.com/OFFIS-RIT/atlas/pkg/store/pgx"
)

const sourceTimeout = 15 * time.Second

var defaultPolicies = map[string]ratelimit.Policy{
	places.Name: {Tokens: 10, Window: time.Second},
	hunter.Name: {Tokens: 15, Window: time.Second},
	apollo.Name: {Tokens: 5, Window: time.Second},
}

// Platform owns the long-lived clients of one process. ctx bounds the
// construction of every client.
type Platform struct {
	ctx context.Context

	mu      sync.Mutex
	closers []func()

	pool       func() (*pgxpool.Pool, error)
	vectorPool func() (*pgxpool.Pool, error)
	redis      func() (*redis.Client, error)
	lake       func() (storage.Lake, error)
	providers  func() embedProviders
	embedder   func() (*ai.FallbackEmbedder, error)
	limits     func() *ratelimit.Registry
	sources    func() *source.Registry
	cache      func() *cache.Cache
	channel    func() (*amqp091.Channel, error)
}

func New(ctx context.Context) *Platform {
	p := &Platform{ctx: ctx}
	p.pool = sync.OnceValues(p.openPool)
	p.vectorPool = sync.OnceValues(p.openVectorPool)
	p.redis = sync.OnceValues(p.openRedis)
	p.lake = sync.OnceValues(p.openLake)
	p.providers = sync.OnceValue(openProviders)
	p.embedder = sync.OnceValues(p.openEmbedder)
	p.limits = sync.OnceValue(p.openLimits)
	p.sources = sync.OnceValue(openSources)
	p.cache = sync.OnceValue(p.openCache)
	p.channel = sync.OnceValues(p.openChannel)
	return p
}

func (p *Platform) onClose(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closers = append(p.closers, f)
}

// Close releases every client built so far, newest first.
func (p *Platform) Close() {
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (p *Platform) openPool() (*pgxpool.Pool, error) {
	url, err := util.RequireEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	pool, err := pgxstore.NewPool(p.ctx, url)
	if err != nil {
		return nil, err
	}
	p.onClose(pool.Close)

	if err := pgxstore.EnsureSchema(p.ctx, pool); err != nil {
		return nil, fmt.Errorf("ensure graph schema: %w", err)
	}
	if err := leaselock.NewPostgresBackend(pool).EnsureSchema(p.ctx); err != nil {
		return nil, fmt.Errorf("ensure lease schema: %w", err)
	}
	logger.Info("[Platform] Connected to database")
	return pool, nil
}

func (p *Platform) openVectorPool() (*pgxpool.Pool, error) {
	url := util.GetEnv("VECTOR_DATABASE_URL")
	if url == "" || url == util.GetEnv("DATABASE_URL") {
		return p.pool()
	}
	pool, err := pgxstore.NewPool(p.ctx, url)
	if err != nil {
		return nil, err
	}
	p.onClose(pool.Close)
	logger.Info("[Platform] Connected to vector database")
	return pool, nil
}

// Pool is the graph database pool with its schema applied.
func (p *Platform) Pool() (*pgxpool.Pool, error) {
	return p.pool()
}

func (p *Platform) Graph() (store.GraphStore, error) {
	pool, err := p.pool()
	if err != nil {
		return nil, err
	}
	return pgxstore.NewGraphStore(pool), nil
}

func (p *Platform) Vectors() (store.VectorStore, error) {
	pool, err := p.vectorPool()
	if err != nil {
		return nil, err
	}
	return pgxstore.NewVectorStore(pool), nil
}

func Collection() string {
	return util.GetEnvString("VECTOR_COLLECTION", store.DefaultCollection)
}

func (p *Platform) openRedis() (*redis.Client, error) {
	url := util.GetEnv("REDIS_URL")
	if url == "" {
		return nil, nil
	}
	rdb, err := cache.NewRedisClient(p.ctx, url)
	if err != nil {
		return nil, err
	}
	p.onClose(func() { _ = rdb.Close() })
	return rdb, nil
}

// Redis returns nil without REDIS_URL.
func (p *Platform) Redis() (*redis.Client, error) {
	return p.redis()
}

func (p *Platform) openCache() *cache.Cache {
	rdb, err := p.redis()
	if err != nil {
		logger.Warn("[Platform] Cache unavailable, reading stores directly", "err", err)
		return nil
	}
	if rdb == nil {
		return nil
	}
	return cache.New(cache.NewRedisBackend(rdb), util.GetEnvString("CACHE_PREFIX", cache.DefaultPrefix))
}

// Cache is nil when no cache is configured or reachable.
func (p *Platform) Cache() *cache.Cache {
	return p.cache()
}

func (p *Platform) openLake() (storage.Lake, error) {
	client, err := storage.NewS3Client(p.ctx)
	if err != nil {
		return nil, err
	}
	lake := storage.NewS3Lake(client, util.GetEnvString("AWS_BUCKET", storage.DefaultBucket))
	if err := lake.EnsureBucket(p.ctx); err != nil {
		return nil, err
	}
	return lake, nil
}

func (p *Platform) Lake() (storage.Lake, error) {
	return p.lake()
}

type embedProviders struct {
	primary  ai.Embedder
	fallback ai.Embedder
}

func openProviders() embedProviders {
	var providers embedProviders
	remote, err := openai.NewEmbedder(openai.NewEmbedderParams{
		BaseURL:    util.GetEnv("AI_EMBED_URL"),
		APIKey:     util.GetEnv("AI_EMBED_KEY"),
		Model:      util.GetEnvString("AI_EMBED_MODEL", openai.DefaultModel),
		Dimensions: int(util.GetEnvNumeric("AI_EMBED_DIM", 0)),
	})
	if err != nil {
		logger.Warn("[Platform] Primary embedder not configured, using fallback", "err", err)
	} else {
		providers.primary = remote
	}

	local, err := ollama.NewEmbedder(ollama.NewEmbedderParams{
		BaseURL: util.GetEnv("AI_FALLBACK_URL"),
		APIKey:  util.GetEnv("AI_FALLBACK_KEY"),
		Model:   util.GetEnvString("AI_FALLBACK_MODEL", ollama.DefaultModel),
	})
	if err != nil {
		logger.Warn("[Platform] Fallback embedder not configured", "err", err)
	} else {
		providers.fallback = local
	}
	return providers
}

// openEmbedder builds the run-scoped embedder of ETL runs.
func (p *Platform) openEmbedder() (*ai.FallbackEmbedder, error) {
	providers := p.providers()
	return ai.NewFallbackEmbedder(providers.primary, providers.fallback)
}

func (p *Platform) Embedder() (*ai.FallbackEmbedder, error) {
	return p.embedder()
}

func (p *Platform) openLimits() *ratelimit.Registry {
	var shared ratelimit.Backend
	if rdb, err := p.redis(); err != nil {
		logger.Warn("[Platform] Shared rate limits unavailable, limiting per process", "err", err)
	} else if rdb != nil {
		shared = ratelimit.NewRedisBackend(rdb, util.GetEnvString("CACHE_PREFIX", cache.DefaultPrefix))
	}
	policies := make(map[string]ratelimit.Policy, len(defaultPolicies))
	for name, def := range defaultPolicies {
		policies[name] = ratelimit.PolicyFromEnv(name, def)
	}
	return ratelimit.NewRegistry(ratelimit.NewRegistryParams{
		Shared:   shared,
		Policies: policies,
		MaxWait:  util.GetEnvDuration("RATE_LIMIT_MAX_WAIT", ratelimit.DefaultMaxWait),
	})
}

func (p *Platform) Limits() *ratelimit.Registry {
	return p.limits()
}

func openSources() *source.Registry {
	r := source.NewRegistry()
	r.RegisterDirectory(places.Name, places.New)
	r.RegisterPeople(hunter.Name, hunter.New)
	r.RegisterPeople(apollo.Name, apollo.New)
	return r
}

func (p *Platform) sourceConfig(provider string) source.Config {
	limits := p.limits()
	return source.Config{
		APIKey:  util.GetEnv(envKey(provider)),
		Limiter: limits.Get(provider),
		MaxWait: limits.MaxWait(),
		Timeout: sourceTimeout,
	}
}

func envKey(provider string) string {
	switch provider {
	case places.Name:
		return "PLACES_API_KEY"
	case hunter.Name:
		return "HUNTER_API_KEY"
	case apollo.Name:
		return "APOLLO_API_KEY"
	}
	return ""
}

func (p *Platform) Directory() (source.DirectorySource, error) {
	return p.sources().Directory(places.Name, p.sourceConfig(places.Name))
}

// People builds the source named by PEOPLE_SOURCE, hunter by default.
func (p *Platform) People() (source.PeopleSource, error) {
	key := util.GetEnvString("PEOPLE_SOURCE", hunter.Name)
	return p.sources().People(key, p.sourceConfig(key))
}

func (p *Platform) Projector() (*etl.Projector, error) {
	lake, err := p.lake()
	if err != nil {
		return nil, err
	}
	pool, err := p.pool()
	if err != nil {
		return nil, err
	}
	vectors, err := p.Vectors()
	if err != nil {
		return nil, err
	}
	embedder, err := p.embedder()
	if err != nil {
		return nil, err
	}
	params := etl.NewProjectorParams{
		Lake:       lake,
		Graph:      pgxstore.NewGraphStore(pool),
		Vectors:    vectors,
		Embedder:   embedder,
		Collection: Collection(),
		BatchSize:  int(util.GetEnvNumeric("AI_EMBED_BATCH", etl.DefaultBatchSize)),
		Locker:     leaselock.New(leaselock.NewPostgresBackend(pool)),
	}
	if c := p.cache(); c != nil {
		params.Cache = c
	}
	return etl.NewProjector(params)
}

// Query builds the read side. Search queries use their own embedder that
// falls back per request and never remembers a switch.
func (p *Platform) Query() (*query.Service, error) {
	graph, err := p.Graph()
	if err != nil {
		return nil, err
	}
	vectors, err := p.Vectors()
	if err != nil {
		return nil, err
	}
	providers := p.providers()
	embedder, err := ai.NewQueryEmbedder(providers.primary, providers.fallback)
	if err != nil {
		return nil, err
	}
	return query.NewService(query.NewServiceParams{
		Graph:      graph,
		Vectors:    vectors,
		Embedder:   embedder,
		Cache:      p.cache(),
		Collection: Collection(),
	}), nil
}

func (p *Platform) openChannel() (*amqp091.Channel, error) {
	conn, err := queue.Init()
	if err != nil {
		return nil, err
	}
	p.onClose(func() { _ = conn.Close() })
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := queue.SetupQueues(ch, []string{queue.ETLQueue}); err != nil {
		return nil, err
	}
	return ch, nil
}

// Channel is a broker channel with the ETL queues declared.
func (p *Platform) Channel() (*amqp091.Channel, error) {
	return p.channel()
}

