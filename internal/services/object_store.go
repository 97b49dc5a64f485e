package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	apperr "github.com/gyasca/alibaba-hack-2025-backend/internal/errors"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
)

// ObjectStore is durable key-addressed storage that hands out public URLs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	URLFor(key string) string
	Delete(ctx context.Context, key string) error
}

// NewObjectStore builds the store selected by STORAGE_DRIVER.
func NewObjectStore(cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "oss":
		return NewOSSStore(cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.LocalBaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// ObjectKey builds "<prefix>/<YYYYMMDD_HHMMSS>_<filename>".
func ObjectKey(prefix, filename string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}
	key := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), name)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// UploadImage stores data under a timestamped key and returns the key and its public URL.
func UploadImage(ctx context.Context, store ObjectStore, prefix, filename string, data []byte, now time.Time) (string, string, error) {
	key := ObjectKey(prefix, filename, now)
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		logger.WithError(err, "object_store").Error("Error uploading to object storage")
		return "", "", err
	}
	return key, store.URLFor(key), nil
}

// OSSStore is an Alibaba Cloud OSS bucket.
type OSSStore struct {
	bucket   *oss.Bucket
	name     string
	endpoint string
}

func NewOSSStore(cfg config.StorageConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket %s: %w", cfg.Bucket, err)
	}
	return &OSSStore{
		bucket:   bucket,
		name:     cfg.Bucket,
		endpoint: hostOnly(cfg.Endpoint),
	}, nil
}

func hostOnly(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimRight(endpoint, "/")
}

func (s *OSSStore) Put(ctx context.Context, key string, r io.Reader) error {
	return s.bucket.PutObject(key, r, oss.WithContext(ctx))
}

func (s *OSSStore) URLFor(key string) string {
	return OSSURL(s.name, s.endpoint, key)
}

func (s *OSSStore) Delete(ctx context.Context, key string) error {
	return s.bucket.DeleteObject(key, oss.WithContext(ctx))
}

// OSSURL is the public virtual-hosted URL of an object.
func OSSURL(bucket, endpoint, key string) string {
	return fmt.Sprintf("https://%s.%s/%s", bucket, hostOnly(endpoint), key)
}

// KeyFromURL recovers the object key from a URL produced by OSSURL.
func KeyFromURL(bucket, endpoint, rawURL string) (string, error) {
	marker := fmt.Sprintf("%s.%s/", bucket, hostOnly(endpoint))
	parts := strings.SplitN(rawURL, marker, 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", apperr.Validation("object_store.key_from_url", "Invalid OSS URL format")
	}
	return parts[1], nil
}

// LocalStore writes objects below a directory; used for development without a bucket.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory served under the uploads route.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty object key")
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *LocalStore) URLFor(key string) string {
	u, err := url.JoinPath(s.baseURL, strings.Split(key, "/")...)
	if err != nil {
		return s.baseURL + "/" + key
	}
	return u
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
