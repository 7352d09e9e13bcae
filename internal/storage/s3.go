package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Storage keeps archives in a bucket, optionally below a key prefix.
// Paths given to and returned by the Backend methods exclude the prefix.
type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}

	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimSuffix(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Storage) key(path string) string {
	return s.prefix + strings.TrimPrefix(path, "/")
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".sql"):
		return "application/sql"
	default:
		return "application/octet-stream"
	}
}

func (s *S3Storage) Write(ctx context.Context, path string, reader io.Reader) error {
	// Size -1 makes minio stream the body as a multipart upload.
	_, err := s.client.PutObject(ctx, s.bucket, s.key(path), reader, -1, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}

	return nil
}

func (s *S3Storage) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, notFound("read", path)
		}
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}

	return obj, nil
}

func (s *S3Storage) Delete(ctx context.Context, path string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(path), minio.RemoveObjectOptions{})
	if err != nil {
		return &StorageError{Op: "delete", Path: path, Err: err}
	}

	return nil
}

func (s *S3Storage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo

	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, &StorageError{Op: "list", Path: prefix, Err: object.Err}
		}

		files = append(files, FileInfo{
			Path:         strings.TrimPrefix(object.Key, s.prefix),
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].LastModified.After(files[j].LastModified)
	})

	return files, nil
}

func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(path), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, &StorageError{Op: "exists", Path: path, Err: err}
	}

	return true, nil
}

func (s *S3Storage) Size(ctx context.Context, path string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(path), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, notFound("size", path)
		}
		return 0, &StorageError{Op: "size", Path: path, Err: err}
	}

	return info.Size, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
