// Package rediscache implements the primary metadata-binding strategy
// (spec §4.3.A): a synchronous point-read against Redis, memoized by a
// small in-process LRU so repeat lookups for a hot producer don't all pay
// the network round trip.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/broker"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/metasource"
)

// cacheSize is the bounded in-process memoization layer's capacity, per
// spec §4.3.A.
const cacheSize = 128

// defaultLookupTimeout bounds the blocking Redis call; a timeout resolves
// to a cache miss just like a missing key, per spec §5.
const defaultLookupTimeout = 800 * time.Millisecond

// Source looks up application metadata keyed "app-meta.{producerUID}" in
// Redis, per spec §6's metadata-source wire contract: a JSON object whose
// string-valued fields are merged directly into meta.Application.
type Source struct {
	client        *redis.Client
	cache         *lru.Cache[string, meta.Application]
	lookupTimeout time.Duration
}

// New connects to a Redis instance at addr and builds the memoizing source.
func New(addr string, lookupTimeout time.Duration) (*Source, error) {
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	cache, err := lru.New[string, meta.Application](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("building metadata cache: %w", err)
	}
	return &Source{
		client:        redis.NewClient(&redis.Options{Addr: addr}),
		cache:         cache,
		lookupTimeout: lookupTimeout,
	}, nil
}

// Lookup resolves producerUID to its bound application metadata. A cache
// miss, a Redis timeout and a malformed value are all treated identically:
// no binding found.
func (s *Source) Lookup(ctx context.Context, producerUID string) (meta.Application, bool) {
	if cached, ok := s.cache.Get(producerUID); ok {
		return cached, true
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, key(producerUID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// Transport/timeout errors resolve to a miss too -- the
			// contract is that producers register before publishing, so a
			// slow or unreachable cache is indistinguishable from "not
			// registered yet" as far as this delivery is concerned.
			return nil, false
		}
		return nil, false
	}

	var fields map[string]string
	if err := json.Unmarshal(val, &fields); err != nil {
		return nil, false
	}

	appMeta := meta.Application(fields)
	s.cache.Add(producerUID, appMeta)
	return appMeta, true
}

// Bind adapts Lookup to the metasource.Binder interface: a miss is always
// terminal for this variant, never pending.
func (s *Source) Bind(ctx context.Context, producerUID string, _ broker.Delivery) (meta.Application, metasource.BindResult) {
	appMeta, ok := s.Lookup(ctx, producerUID)
	if !ok {
		return nil, metasource.BindMiss
	}
	return appMeta, metasource.BindResolved
}

// Close releases the underlying Redis connection.
func (s *Source) Close() error {
	return s.client.Close()
}

func key(producerUID string) string {
	return "app-meta." + producerUID
}
