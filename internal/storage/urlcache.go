package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const presignKeyPrefix = "presign:" // presign:{storage_key} -> url

// URLCache keeps presigned URLs in Redis so repeated downloads of the same
// revision reuse one signature.
type URLCache struct {
	client redis.UniversalClient
}

func NewURLCache(client redis.UniversalClient) *URLCache {
	return &URLCache{client: client}
}

func (c *URLCache) Get(ctx context.Context, storageKey string) (string, bool, error) {
	url, err := c.client.Get(ctx, presignKeyPrefix+storageKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read presign cache: %w", err)
	}
	return url, true, nil
}

func (c *URLCache) Set(ctx context.Context, storageKey, url string, ttl time.Duration) error {
	if err := c.client.Set(ctx, presignKeyPrefix+storageKey, url, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write presign cache: %w", err)
	}
	return nil
}

func (c *URLCache) Invalidate(ctx context.Context, storageKey string) error {
	return c.client.Del(ctx, presignKeyPrefix+storageKey).Err()
}

// LookupObserver is told whether each lookup was served from the cache.
type LookupObserver interface {
	RecordPresignLookup(hit bool)
}

// Presigner hands out presigned download URLs, caching them for part of
// their lifetime so a cached URL is never close to expiry.
type Presigner struct {
	store    FileStore
	cache    *URLCache
	ttl      time.Duration
	observer LookupObserver
}

// NewPresigner wraps store. A nil cache signs every request.
func NewPresigner(store FileStore, cache *URLCache, ttl time.Duration, observer LookupObserver) *Presigner {
	return &Presigner{store: store, cache: cache, ttl: ttl, observer: observer}
}

// URL returns a presigned URL for storageKey and the time it stops being
// served from the cache.
func (p *Presigner) URL(ctx context.Context, storageKey string) (string, time.Time, error) {
	cacheTTL := p.ttl / 2
	if p.cache != nil {
		url, ok, err := p.cache.Get(ctx, storageKey)
		if err == nil && ok {
			p.observe(true)
			return url, time.Now().Add(cacheTTL), nil
		}
	}
	p.observe(false)

	url, err := p.store.PresignGet(ctx, storageKey, p.ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	if p.cache != nil {
		// Cache failures only cost a re-sign later.
		_ = p.cache.Set(ctx, storageKey, url, cacheTTL)
	}
	return url, time.Now().Add(p.ttl), nil
}

// Forget drops the cached URL for storageKey.
func (p *Presigner) Forget(ctx context.Context, storageKey string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Invalidate(ctx, storageKey)
}

func (p *Presigner) observe(hit bool) {
	if p.observer != nil {
		p.observer.RecordPresignLookup(hit)
	}
}
