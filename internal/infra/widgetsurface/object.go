package widgetsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yanqian/weathercards/internal/domain/widget"
)

// ObjectConfig locates the S3-compatible bucket.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// ObjectSurface stores zstd compressed JSON snapshots in S3-compatible
// object storage.
type ObjectSurface struct {
	client *minio.Client
	bucket string
	logger *slog.Logger

	bucketMu    sync.Mutex
	bucketReady bool
}

// NewObjectSurface constructs the storage adapter.
func NewObjectSurface(cfg ObjectConfig, logger *slog.Logger) (*ObjectSurface, error) {
	useSSL := strings.HasPrefix(strings.ToLower(cfg.Endpoint), "https")
	client, err := minio.New(sanitizeEndpoint(cfg.Endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       useSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage client: %w", err)
	}
	return &ObjectSurface{client: client, bucket: cfg.Bucket, logger: logger.With("component", "widgetsurface.object")}, nil
}

func (s *ObjectSurface) Name() string { return "object" }

func (s *ObjectSurface) PutIndex(ctx context.Context, index widget.Index) error {
	return s.put(ctx, "widget/index.json.zst", index)
}

func (s *ObjectSurface) PutWeather(ctx context.Context, entry widget.WeatherEntry) error {
	return s.put(ctx, "widget/weather/"+entry.RecipientID+".json.zst", entry)
}

func (s *ObjectSurface) PutCards(ctx context.Context, entry widget.CardsEntry) error {
	return s.put(ctx, "widget/cards/"+entry.RecipientID+".json.zst", entry)
}

func (s *ObjectSurface) put(ctx context.Context, key string, value any) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	payload, err := encodePayload(value)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:      "application/json",
		ContentEncoding:  "zstd",
		DisableMultipart: true,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ensureBucket creates the bucket on first use. Only success is remembered;
// a failed check is repeated on the next put.
func (s *ObjectSurface) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	s.bucketReady = true
	s.logger.Info("widget bucket ready", "bucket", s.bucket)
	return nil
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

// encodePayload marshals value to JSON and compresses it.
func encodePayload(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// decodePayload reverses encodePayload.
func decodePayload(data []byte, out any) error {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("zstd decompression failed: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// sanitizeEndpoint removes schemes and paths to satisfy minio.New expectations.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.Index(raw, "/"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

var _ widget.Surface = (*ObjectSurface)(nil)
