// Package blob implements the blob store contract on MinIO (or any
// S3-compatible endpoint). Object writes are atomic from the reader's
// perspective: an object is either absent or fully visible.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dropbin/internal/drop"
)

// objectPrefix namespaces drop payloads inside the bucket so the
// reconciliation listing never touches unrelated objects.
const objectPrefix = "drops/"

// Config carries the S3 connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Minio is a drop.BlobStore over a MinIO client and a single bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NormaliseEndpoint accepts "minio:9000" as well as
// "http(s)://minio:9000" and returns the host plus the TLS flag.
func NormaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// Bare host:port, insecure by default for local MinIO.
	return raw, false, nil
}

// New connects to the endpoint and verifies the bucket exists.
func New(ctx context.Context, cfg Config) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("blob store configuration incomplete")
	}

	endpoint, secure, err := NormaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("bucket does not exist: %s", cfg.Bucket)
	}

	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error) {
	info, err := m.client.PutObject(ctx, m.bucket, key, r, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, classify("put", err)
	}
	return info.Size, nil
}

func (m *Minio) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get", err)
	}

	// GetObject is lazy; Stat forces the missing-object error out
	// before any bytes are promised to the caller.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, classify("get", err)
	}
	return obj, nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	// RemoveObject on an absent key already succeeds, which gives us
	// the idempotence the reclaim path needs.
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify("delete", err)
	}
	return nil
}

func (m *Minio) List(ctx context.Context) ([]drop.BlobInfo, error) {
	var infos []drop.BlobInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    objectPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classify("list", obj.Err)
		}
		infos = append(infos, drop.BlobInfo{Key: obj.Key, LastModified: obj.LastModified})
	}
	return infos, nil
}

// Ping verifies the bucket is still reachable; used by the readiness
// probe.
func (m *Minio) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

func classify(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return drop.ErrNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		resp.StatusCode == 503 {
		return &drop.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
