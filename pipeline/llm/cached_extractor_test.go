package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaveri/deedscan/pipeline"
)

type fakeCache struct {
	store map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{store: make(map[string][]byte)} }

func (c *fakeCache) SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store[key] = data
	return nil
}

func (c *fakeCache) GetCache(ctx context.Context, key string, value interface{}) error {
	data, ok := c.store[key]
	if !ok {
		return fmt.Errorf("cache miss")
	}
	return json.Unmarshal(data, value)
}

type countingExtractor struct {
	calls int
	doc   pipeline.ExtractedDocument
}

func (e *countingExtractor) Parse(ctx context.Context, text string) (pipeline.ExtractedDocument, error) {
	e.calls++
	return e.doc, nil
}

func TestCachingStructuredExtractor_CachesSecondCall(t *testing.T) {
	inner := &countingExtractor{doc: pipeline.ExtractedDocument{RegistrationOffice: "Sub-Registrar"}}
	cache := newFakeCache()
	extractor := NewCachingStructuredExtractor(inner, cache, time.Minute, nil)

	doc1, err := extractor.Parse(context.Background(), "ocr text")
	require.NoError(t, err)
	assert.Equal(t, "Sub-Registrar", doc1.RegistrationOffice)
	assert.Equal(t, 1, inner.calls)

	doc2, err := extractor.Parse(context.Background(), "ocr text")
	require.NoError(t, err)
	assert.Equal(t, "Sub-Registrar", doc2.RegistrationOffice)
	assert.Equal(t, 1, inner.calls, "second call with identical text should hit the cache")
}

func TestCachingStructuredExtractor_DistinctTextBypassesCache(t *testing.T) {
	inner := &countingExtractor{doc: pipeline.ExtractedDocument{RegistrationOffice: "Sub-Registrar"}}
	cache := newFakeCache()
	extractor := NewCachingStructuredExtractor(inner, cache, time.Minute, nil)

	_, err := extractor.Parse(context.Background(), "text a")
	require.NoError(t, err)
	_, err = extractor.Parse(context.Background(), "text b")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}
