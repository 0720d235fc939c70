package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

// RateLimited spaces out calls to a translator shared by all pipelines.
type RateLimited struct {
	next    types.Translator
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limit of perMinute calls. A
// non-positive limit returns next unchanged.
func NewRateLimited(next types.Translator, perMinute int) types.Translator {
	if perMinute <= 0 {
		return next
	}
	burst := max(perMinute/10, 1)
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

func (r *RateLimited) Translate(ctx context.Context, text string, targetLanguage string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		// The wait would outlive the call deadline.
		return "", apperrors.Transient(apperrors.CodeRateLimited, apperrors.ErrRateLimited.Message, err)
	}
	return r.next.Translate(ctx, text, targetLanguage)
}

// Cache stores finished translations.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Cached serves repeated segments from a cache. Cache failures only cost a
// translator call.
type Cached struct {
	next  types.Translator
	cache Cache
	ttl   time.Duration
}

func NewCached(next types.Translator, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func cacheKey(targetLanguage, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "captionflow:tr:" + targetLanguage + ":" + hex.EncodeToString(sum[:])
}

func (c *Cached) Translate(ctx context.Context, text string, targetLanguage string) (string, error) {
	key := cacheKey(targetLanguage, text)
	if val, ok, err := c.cache.Get(ctx, key); err != nil {
		log.GetLogger().Debug("translation cache read failed", zap.Error(err))
	} else if ok {
		return val, nil
	}

	out, err := c.next.Translate(ctx, text, targetLanguage)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		log.GetLogger().Debug("translation cache write failed", zap.Error(err))
	}
	return out, nil
}
