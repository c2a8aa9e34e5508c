package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boatmarket/internal/config"
)

func newTestPromoter(store BlobStore, timeout time.Duration) *PromotionService {
	return NewPromotionService(store, config.PromotionConfig{PerFileTimeout: timeout, Concurrency: 4}, zerolog.Nop())
}

func TestPromotePreservesInputOrder(t *testing.T) {
	store := newFakeBlobStore()
	var keys []string
	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("temp_session_s/%d-photo%d.webp", 1700000000000+i, i)
		store.seed(key, fmt.Sprintf("data-%d", i))
		keys = append(keys, key)
	}

	res := newTestPromoter(store, time.Second).Promote(context.Background(), keys, "l-1")

	require.True(t, res.Success)
	require.Len(t, res.FinalURLs, 8)
	for i, url := range res.FinalURLs {
		assert.True(t, strings.HasPrefix(url, testBaseURL+"/listings/l-1/"), url)
		assert.True(t, strings.HasSuffix(url, fmt.Sprintf("-photo%d.webp", i)), url)
	}
	for _, key := range keys {
		assert.False(t, store.has(key), "staged original should be gone: %s", key)
	}
}

func TestPromoteSkipsMissingAndTimedOut(t *testing.T) {
	store := newFakeBlobStore()
	store.seed("temp_session_s/1-a.webp", "a")
	store.seed("temp_session_s/3-c.webp", "c")
	store.seed("temp_session_s/4-d.webp", "d")
	store.blockGet["temp_session_s/4-d.webp"] = true

	keys := []string{"temp_session_s/1-a.webp", "temp_session_s/2-missing.webp", "temp_session_s/3-c.webp", "temp_session_s/4-d.webp"}
	res := newTestPromoter(store, 50*time.Millisecond).Promote(context.Background(), keys, "l-1")

	assert.True(t, res.Success)
	require.Len(t, res.FinalURLs, 2)
	assert.True(t, strings.HasSuffix(res.FinalURLs[0], "-a.webp"))
	assert.True(t, strings.HasSuffix(res.FinalURLs[1], "-c.webp"))
	assert.Equal(t, []string{"temp_session_s/2-missing.webp", "temp_session_s/4-d.webp"}, res.Skipped)
	assert.Equal(t, "2 of 4 images skipped", res.Error)
}

func TestPromoteCountsCopyWhenDeleteFails(t *testing.T) {
	store := newFakeBlobStore()
	store.seed("temp_session_s/1-a.webp", "a")
	store.failDelete["temp_session_s/1-a.webp"] = true

	res := newTestPromoter(store, time.Second).Promote(context.Background(), []string{"temp_session_s/1-a.webp"}, "l-1")

	require.Len(t, res.FinalURLs, 1)
	assert.True(t, store.has("temp_session_s/1-a.webp"))

	key, ok := store.KeyFromURL(res.FinalURLs[0])
	require.True(t, ok)
	blob, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "temp_session_s/1-a.webp", blob.Metadata["moved-from"])
	assert.Equal(t, "l-1", blob.Metadata["origin"])
}

func TestPromoteDefaultFilename(t *testing.T) {
	store := newFakeBlobStore()
	store.seed("temp_session_s/1700", "a")

	res := newTestPromoter(store, time.Second).Promote(context.Background(), []string{"temp_session_s/1700"}, "l-1")

	require.Len(t, res.FinalURLs, 1)
	assert.True(t, strings.HasSuffix(res.FinalURLs[0], "-image.jpg"))
}

func TestPromoteRequiresListing(t *testing.T) {
	res := newTestPromoter(newFakeBlobStore(), time.Second).Promote(context.Background(), []string{"temp_session_s/1-a.webp"}, "")
	assert.False(t, res.Success)
}
