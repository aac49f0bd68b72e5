// Package store is the single source of truth for platform entities. It
// fronts a swappable Database with four cache tiers (by-ID maps, secondary
// indexes, relation multimaps and a kubeconfig file pool) and guarantees
// write-through coherency: mutations reach the database first and touch the
// caches only after the write is confirmed.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/slateci/slate-api-server/internal/ttlmap"
)

// Default cache validities. Cluster records go stale fastest because their
// kubeconfig materializations are tied to them.
const (
	DefaultUserCacheValidity     = 5 * time.Minute
	DefaultGroupCacheValidity    = time.Minute
	DefaultClusterCacheValidity  = time.Minute
	DefaultInstanceCacheValidity = time.Minute
	DefaultSecretCacheValidity   = time.Minute
)

// clusterGroupKey addresses the per-(cluster, group) application grants.
type clusterGroupKey struct {
	clusterID string
	groupID   string
}

// Store coordinates the database, the cache tiers and the kubeconfig pool.
// All methods are safe for concurrent use.
type Store struct {
	db      Database
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time

	flight singleflight.Group

	users     *ttlmap.Map[string, User]
	groups    *ttlmap.Map[string, Group]
	clusters  *ttlmap.Map[string, Cluster]
	instances *ttlmap.Map[string, ApplicationInstance]
	secrets   *ttlmap.Map[string, Secret]

	tokenIndex    *ttlmap.Map[string, string]
	globusIndex   *ttlmap.Map[string, string]
	groupNames    *ttlmap.Map[string, string]
	clusterNames  *ttlmap.Map[string, string]
	instanceNames *ttlmap.Map[string, string]

	userGroups    *ttlmap.MultiMap[string, string]
	clusterAccess *ttlmap.MultiMap[string, string]
	clusterApps   *ttlmap.MultiMap[clusterGroupKey, string]
	groupClusters *ttlmap.MultiMap[string, string]

	pool *configPool

	userTTL     time.Duration
	groupTTL    time.Duration
	clusterTTL  time.Duration
	instanceTTL time.Duration
	secretTTL   time.Duration
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	metrics     MetricsRecorder
	now         func() time.Time
	fs          afero.Fs
	userTTL     time.Duration
	groupTTL    time.Duration
	clusterTTL  time.Duration
	instanceTTL time.Duration
	secretTTL   time.Duration
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the cache event recorder. Defaults to NopMetrics.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFilesystem injects the filesystem used for kubeconfig files.
// Defaults to the OS filesystem.
func WithFilesystem(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithUserCacheValidity tunes the user and membership cache TTL.
func WithUserCacheValidity(d time.Duration) Option {
	return func(o *options) { o.userTTL = d }
}

// WithGroupCacheValidity tunes the group cache TTL.
func WithGroupCacheValidity(d time.Duration) Option {
	return func(o *options) { o.groupTTL = d }
}

// WithClusterCacheValidity tunes the cluster, grant and kubeconfig cache TTL.
func WithClusterCacheValidity(d time.Duration) Option {
	return func(o *options) { o.clusterTTL = d }
}

// WithInstanceCacheValidity tunes the application-instance cache TTL.
func WithInstanceCacheValidity(d time.Duration) Option {
	return func(o *options) { o.instanceTTL = d }
}

// WithSecretCacheValidity tunes the secret cache TTL.
func WithSecretCacheValidity(d time.Duration) Option {
	return func(o *options) { o.secretTTL = d }
}

// New builds a Store over db. kubeconfigDir receives materialized cluster
// credentials (created if absent, files mode 0600). The Store owns db and
// closes it.
func New(db Database, kubeconfigDir string, opts ...Option) (*Store, error) {
	o := options{
		logger:      slog.Default(),
		metrics:     NopMetrics{},
		now:         time.Now,
		fs:          afero.NewOsFs(),
		userTTL:     DefaultUserCacheValidity,
		groupTTL:    DefaultGroupCacheValidity,
		clusterTTL:  DefaultClusterCacheValidity,
		instanceTTL: DefaultInstanceCacheValidity,
		secretTTL:   DefaultSecretCacheValidity,
	}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := newConfigPool(o.fs, kubeconfigDir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:      db,
		logger:  o.logger,
		metrics: o.metrics,
		now:     o.now,
		pool:    pool,

		users:     ttlmap.NewMap(ttlmap.WithMapClock[string, User](o.now)),
		groups:    ttlmap.NewMap(ttlmap.WithMapClock[string, Group](o.now)),
		clusters:  ttlmap.NewMap(ttlmap.WithMapClock[string, Cluster](o.now)),
		instances: ttlmap.NewMap(ttlmap.WithMapClock[string, ApplicationInstance](o.now)),
		secrets:   ttlmap.NewMap(ttlmap.WithMapClock[string, Secret](o.now)),

		tokenIndex:    ttlmap.NewMap(ttlmap.WithMapClock[string, string](o.now)),
		globusIndex:   ttlmap.NewMap(ttlmap.WithMapClock[string, string](o.now)),
		groupNames:    ttlmap.NewMap(ttlmap.WithMapClock[string, string](o.now)),
		clusterNames:  ttlmap.NewMap(ttlmap.WithMapClock[string, string](o.now)),
		instanceNames: ttlmap.NewMap(ttlmap.WithMapClock[string, string](o.now)),

		userGroups:    ttlmap.NewMultiMap(ttlmap.WithMultiMapClock[string, string](o.now)),
		clusterAccess: ttlmap.NewMultiMap(ttlmap.WithMultiMapClock[string, string](o.now)),
		clusterApps:   ttlmap.NewMultiMap(ttlmap.WithMultiMapClock[clusterGroupKey, string](o.now)),
		groupClusters: ttlmap.NewMultiMap(ttlmap.WithMultiMapClock[string, string](o.now)),

		userTTL:     o.userTTL,
		groupTTL:    o.groupTTL,
		clusterTTL:  o.clusterTTL,
		instanceTTL: o.instanceTTL,
		secretTTL:   o.secretTTL,
	}
	return s, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases pooled kubeconfig files and closes the database.
func (s *Store) Close() error {
	s.pool.close()
	return s.db.Close()
}

// cachedFetch serves a by-ID read: cache first, then a deduplicated database
// fetch. fetch reports validity; only valid records populate the cache, and
// fetch is responsible for populating any secondary indexes.
func cachedFetch[V any](s *Store, tier string, cache *ttlmap.Map[string, V], id string, ttl time.Duration, fetch func() (V, bool, error)) (V, error) {
	if v, ok := cache.Get(id); ok {
		s.metrics.CacheHit(tier)
		return v, nil
	}
	s.metrics.CacheMiss(tier)

	res, err, _ := s.flight.Do(tier+":"+id, func() (any, error) {
		v, valid, err := fetch()
		if err != nil {
			return nil, err
		}
		if valid {
			cache.Insert(id, v, s.now().Add(ttl))
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// cachedRelation serves one relation category: the full value set when the
// category is live, otherwise a deduplicated fetch that repopulates it. An
// empty relation never creates a category, so it is re-fetched each time.
func cachedRelation[K comparable](s *Store, mm *ttlmap.MultiMap[K, string], key K, flightKey string, ttl time.Duration, fetch func() ([]string, error)) ([]string, error) {
	if vals, ok := mm.Find(key); ok {
		s.metrics.CacheHit(TierRelation)
		return vals, nil
	}
	s.metrics.CacheMiss(TierRelation)

	res, err, _ := s.flight.Do(flightKey, func() (any, error) {
		vals, err := fetch()
		if err != nil {
			return nil, err
		}
		deadline := s.now().Add(ttl)
		for _, v := range vals {
			mm.Insert(key, v, deadline)
		}
		return vals, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}
