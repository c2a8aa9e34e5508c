package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"boatmarket/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// Object metadata keys written with every blob.
const (
	MetaOrigin       = "origin"
	MetaUploadedAt   = "uploaded-at"
	MetaOriginalName = "original-name"
	MetaTemporary    = "temporary"
	MetaConverted    = "converted"
	MetaQuality      = "quality"
	MetaMovedFrom    = "moved-from"
)

type Blob struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type PutInput struct {
	Key          string
	Data         []byte
	ContentType  string
	Origin       string
	OriginalName string
	Extra        map[string]string
}

type ObjectStore struct {
	client  *minio.Client
	cfg     config.StorageConfig
	baseURL string
	log     zerolog.Logger
}

func NewObjectStore(cfg config.StorageConfig, log zerolog.Logger) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	baseURL := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, cfg.Bucket)
	}

	return &ObjectStore{
		client:  client,
		cfg:     cfg,
		baseURL: baseURL,
		log:     log.With().Str("component", "object_store").Logger(),
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

// Put stores the blob and returns its public URL.
func (s *ObjectStore) Put(ctx context.Context, in PutInput) (string, error) {
	meta := make(map[string]string, len(in.Extra)+3)
	for k, v := range in.Extra {
		meta[k] = v
	}
	meta[MetaOrigin] = in.Origin
	meta[MetaUploadedAt] = time.Now().UTC().Format(time.RFC3339)
	meta[MetaOriginalName] = in.OriginalName

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, in.Key, bytes.NewReader(in.Data), int64(len(in.Data)), minio.PutObjectOptions{
		ContentType:  in.ContentType,
		UserMetadata: meta,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", in.Key, err)
	}
	return s.PublicURL(in.Key), nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) (Blob, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Blob{}, translateErr(key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return Blob{}, translateErr(key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return Blob{}, translateErr(key, err)
	}

	// S3 hands user metadata back in canonical header case.
	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[strings.ToLower(k)] = v
	}

	return Blob{
		Data:        data,
		ContentType: info.ContentType,
		Metadata:    meta,
	}, nil
}

// Delete reports whether the key was removed. Failures are logged, never
// returned.
func (s *ObjectStore) Delete(ctx context.Context, key string) bool {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("delete object failed")
		return false
	}
	return true
}

func (s *ObjectStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *ObjectStore) PublicURL(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL reverses PublicURL.
func (s *ObjectStore) KeyFromURL(raw string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(raw, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

func translateErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotFound
	}
	return fmt.Errorf("get object %s: %w", key, err)
}
