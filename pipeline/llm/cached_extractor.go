package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kaveri/deedscan/pipeline"
)

// Cache is the subset of db/repository.RedisRepository's cache surface
// this package depends on, kept as a narrow interface so pipeline/llm
// never imports the repository package directly.
type Cache interface {
	SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetCache(ctx context.Context, key string, value interface{}) error
}

// CachingStructuredExtractor wraps a StructuredExtractor with a Redis-
// backed cache keyed by the sha256 of the OCR text, so re-processing an
// identical page of text (a common occurrence when RetryBatch reruns
// documents that failed for OCR-unrelated reasons) never re-spends an
// LLM call on input already parsed successfully.
type CachingStructuredExtractor struct {
	inner pipeline.StructuredExtractor
	cache Cache
	ttl   time.Duration
	log   *logrus.Entry
}

// NewCachingStructuredExtractor wraps inner with cache. A zero ttl
// defaults to 24 hours.
func NewCachingStructuredExtractor(inner pipeline.StructuredExtractor, cache Cache, ttl time.Duration, log *logrus.Entry) *CachingStructuredExtractor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachingStructuredExtractor{inner: inner, cache: cache, ttl: ttl, log: log.WithField("component", "caching_structured_extractor")}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "llm_extract:" + hex.EncodeToString(sum[:])
}

// Parse checks the cache before delegating to inner. Any cache-read
// failure, including a plain miss, falls through to a live call; a
// cache-write failure after a live call is logged but never fails the
// extraction.
func (c *CachingStructuredExtractor) Parse(ctx context.Context, text string) (pipeline.ExtractedDocument, error) {
	key := cacheKey(text)

	var cached pipeline.ExtractedDocument
	if err := c.cache.GetCache(ctx, key, &cached); err == nil {
		return cached, nil
	}

	doc, err := c.inner.Parse(ctx, text)
	if err != nil {
		return doc, err
	}

	if err := c.cache.SetCache(ctx, key, doc, c.ttl); err != nil {
		c.log.WithError(err).Warn("failed to cache extraction result")
	}
	return doc, nil
}

var _ pipeline.StructuredExtractor = (*CachingStructuredExtractor)(nil)
