package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStaging(store BlobStore, now time.Time) *StagingService {
	s := NewStagingService(store, 80, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestStageConvertsToWebP(t *testing.T) {
	store := newFakeBlobStore()
	s := newTestStaging(store, time.UnixMilli(1700000000000))

	res := s.Stage(context.Background(), StageInput{
		SessionID:   "sess-1",
		Filename:    "hull.png",
		ContentType: "image/png",
		Data:        samplePNG(t),
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "temp_session_sess-1/1700000000000-hull.webp", res.Key)
	assert.Equal(t, testBaseURL+"/"+res.Key, res.URL)

	blob, err := store.Get(context.Background(), res.Key)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", blob.ContentType)
	assert.Equal(t, "true", blob.Metadata["temporary"])
	assert.Equal(t, "sess-1", blob.Metadata["origin"])
	assert.Equal(t, "hull.png", blob.Metadata["original-name"])
}

func TestStageRawSanitizesKey(t *testing.T) {
	store := newFakeBlobStore()
	s := newTestStaging(store, time.Now())

	res := s.Stage(context.Background(), StageInput{
		SessionID:   "abc",
		Filename:    "my boat (1).png",
		ContentType: "image/png",
		Data:        samplePNG(t),
		Raw:         true,
	})

	require.True(t, res.Success)
	assert.Regexp(t, regexp.MustCompile(`^temp_session_abc/\d+-my_boat__1_\.png$`), res.Key)
}

func TestStageRejectsBadInput(t *testing.T) {
	s := newTestStaging(newFakeBlobStore(), time.Now())

	res := s.Stage(context.Background(), StageInput{SessionID: "../etc", Filename: "a.png", Data: []byte{1}})
	assert.False(t, res.Success)
	assert.Equal(t, "invalid session id", res.Error)

	res = s.Stage(context.Background(), StageInput{SessionID: "ok", Filename: "a.png", Data: []byte("not an image")})
	assert.False(t, res.Success)
	assert.Equal(t, "image conversion failed", res.Error)
}

func TestReapOlderThanCountsOnlyParsableKeys(t *testing.T) {
	now := time.Now()
	store := newFakeBlobStore()
	old := fmt.Sprintf("temp_session_a/%d-old.webp", now.Add(-3*time.Hour).UnixMilli())
	fresh := fmt.Sprintf("temp_session_b/%d-new.webp", now.Add(-1*time.Hour).UnixMilli())
	store.seed(old, "x")
	store.seed(fresh, "y")
	store.seed("temp_session_c/garbage.webp", "z")

	s := newTestStaging(store, now)
	report, err := s.ReapOlderThan(context.Background(), 2*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, ReapReport{Deleted: 1, Failed: 0, TotalFound: 2}, report)
	assert.False(t, store.has(old))
	assert.True(t, store.has(fresh))
	assert.True(t, store.has("temp_session_c/garbage.webp"))
}

func TestReapOlderThanContinuesPastFailures(t *testing.T) {
	now := time.Now()
	store := newFakeBlobStore()
	var keys []string
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("temp_session_a/%d-%d.webp", now.Add(-5*time.Hour).UnixMilli()+int64(i), i)
		store.seed(key, "x")
		keys = append(keys, key)
	}
	store.failDelete[keys[1]] = true

	report, err := newTestStaging(store, now).ReapOlderThan(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReapReport{Deleted: 3, Failed: 1, TotalFound: 4}, report)
}

func TestReapSession(t *testing.T) {
	store := newFakeBlobStore()
	store.seed("temp_session_a/1-x.webp", "x")
	store.seed("temp_session_a/2-y.webp", "y")
	store.seed("temp_session_ab/3-z.webp", "z")
	s := newTestStaging(store, time.Now())

	assert.True(t, s.ReapSession(context.Background(), "a"))
	assert.False(t, store.has("temp_session_a/1-x.webp"))
	assert.True(t, store.has("temp_session_ab/3-z.webp"))

	store.seed("temp_session_b/1-x.webp", "x")
	store.failDelete["temp_session_b/1-x.webp"] = true
	assert.False(t, s.ReapSession(context.Background(), "b"))

	assert.True(t, s.ReapSession(context.Background(), "empty"))
}

func TestReapAll(t *testing.T) {
	store := newFakeBlobStore()
	store.seed("temp_session_a/1-x.webp", "x")
	store.seed("temp_session_b/2-y.webp", "y")
	store.seed("listings/l-1/3-z.webp", "z")

	report, err := newTestStaging(store, time.Now()).ReapAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted)
	assert.True(t, store.has("listings/l-1/3-z.webp"))
}

func TestSessionFromKey(t *testing.T) {
	sid, ok := SessionFromKey("temp_session_abc-1/1700-a.webp")
	require.True(t, ok)
	assert.Equal(t, "abc-1", sid)

	for _, key := range []string{"listings/l-1/1-a.webp", "temp_session_/1-a.webp", "temp_session_abc"} {
		_, ok := SessionFromKey(key)
		assert.False(t, ok, key)
	}
}
