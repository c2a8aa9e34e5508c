package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"boatmarket/internal/storage"
)

const (
	StagingPrefix = "temp_session_"

	reapConcurrency = 8
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// StagingNamespace returns the object prefix for a staging session.
func StagingNamespace(sessionID string) string {
	return StagingPrefix + sessionID
}

// SessionFromKey extracts the session id from a staged key.
func SessionFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, StagingPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, StagingPrefix)
	idx := strings.Index(rest, "/")
	if idx <= 0 {
		return "", false
	}
	sid := rest[:idx]
	if !ValidSessionID(sid) {
		return "", false
	}
	return sid, true
}

type StageInput struct {
	SessionID   string
	Filename    string
	ContentType string
	Data        []byte
	Quality     int
	// Raw stores the bytes as uploaded, skipping WebP conversion.
	Raw bool
}

type UploadResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Key     string `json:"key,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ReapReport struct {
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
	TotalFound int `json:"totalFound"`
}

type StagingService struct {
	store   BlobStore
	quality int
	log     zerolog.Logger
	now     func() time.Time
}

func NewStagingService(store BlobStore, quality int, log zerolog.Logger) *StagingService {
	return &StagingService{
		store:   store,
		quality: storage.ClampQuality(quality),
		log:     log.With().Str("component", "staging").Logger(),
		now:     time.Now,
	}
}

// Stage uploads one file into the session's namespace. Failures come back in
// the result so multi-file callers can report partial success.
func (s *StagingService) Stage(ctx context.Context, in StageInput) UploadResult {
	if !ValidSessionID(in.SessionID) {
		return UploadResult{Error: "invalid session id"}
	}
	if len(in.Data) == 0 {
		return UploadResult{Error: "empty file"}
	}

	data, filename, contentType := in.Data, in.Filename, in.ContentType
	quality := s.quality
	if in.Quality > 0 {
		quality = storage.ClampQuality(in.Quality)
	}

	if !in.Raw {
		converted, name, err := storage.ToWebFormat(in.Data, in.Filename, quality)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", in.SessionID).Str("filename", in.Filename).Msg("stage conversion failed")
			return UploadResult{Error: "image conversion failed"}
		}
		data, filename, contentType = converted, name, storage.WebPContentType
	}
	if filename == "" {
		filename = "image"
	}

	key := storage.GenerateKey(StagingNamespace(in.SessionID), filename, s.now())
	url, err := s.store.Put(ctx, storage.PutInput{
		Key:          key,
		Data:         data,
		ContentType:  contentType,
		Origin:       in.SessionID,
		OriginalName: in.Filename,
		Extra: map[string]string{
			storage.MetaTemporary: "true",
			storage.MetaConverted: strconv.FormatBool(!in.Raw),
			storage.MetaQuality:   strconv.Itoa(quality),
		},
	})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("stage put failed")
		return UploadResult{Error: "storage unavailable"}
	}

	return UploadResult{Success: true, URL: url, Key: key}
}

// ReapSession deletes every blob of the session and reports whether all
// deletes succeeded.
func (s *StagingService) ReapSession(ctx context.Context, sessionID string) bool {
	if !ValidSessionID(sessionID) {
		return false
	}
	keys, err := s.store.ListByPrefix(ctx, StagingNamespace(sessionID)+"/")
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("list session failed")
		return false
	}

	deleted, failed := deleteKeys(ctx, s.store, keys)
	s.log.Info().Str("session_id", sessionID).Int("deleted", deleted).Int("failed", failed).Msg("session reaped")
	return failed == 0
}

// ReapOlderThan deletes staged blobs whose key timestamp is older than age.
// Keys without a parsable timestamp are skipped and not counted.
func (s *StagingService) ReapOlderThan(ctx context.Context, age time.Duration) (ReapReport, error) {
	keys, err := s.store.ListByPrefix(ctx, StagingPrefix)
	if err != nil {
		return ReapReport{}, err
	}

	cutoff := s.now().Add(-age)
	var (
		report  ReapReport
		expired []string
	)
	for _, key := range keys {
		ts, ok := storage.KeyTimestamp(key)
		if !ok {
			s.log.Debug().Str("key", key).Msg("skip staged key without timestamp")
			continue
		}
		report.TotalFound++
		if ts.Before(cutoff) {
			expired = append(expired, key)
		}
	}

	report.Deleted, report.Failed = deleteKeys(ctx, s.store, expired)
	s.log.Info().
		Dur("age", age).
		Int("found", report.TotalFound).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Msg("staging reaped")
	return report, nil
}

// ReapAll wipes the whole staging area.
func (s *StagingService) ReapAll(ctx context.Context) (ReapReport, error) {
	keys, err := s.store.ListByPrefix(ctx, StagingPrefix)
	if err != nil {
		return ReapReport{}, err
	}
	deleted, failed := deleteKeys(ctx, s.store, keys)
	s.log.Warn().Int("deleted", deleted).Int("failed", failed).Msg("staging area wiped")
	return ReapReport{Deleted: deleted, Failed: failed, TotalFound: len(keys)}, nil
}

func (s *StagingService) List(ctx context.Context) ([]string, error) {
	return s.store.ListByPrefix(ctx, StagingPrefix)
}

// deleteKeys removes keys in parallel and tallies the outcomes.
func deleteKeys(ctx context.Context, store BlobStore, keys []string) (int, int) {
	var deleted, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(reapConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if store.Delete(ctx, key) {
				deleted.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(deleted.Load()), int(failed.Load())
}
