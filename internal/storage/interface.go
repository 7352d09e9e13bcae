package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Backend stores seed archives and their metadata sidecars.
type Backend interface {
	Write(ctx context.Context, path string, reader io.Reader) error
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]FileInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
}

type FileInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

type Config struct {
	Backend string
	Path    string
	S3      *S3Config
}

type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New opens the backend named by cfg.Backend.
func New(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		if cfg.S3 == nil {
			return nil, ErrS3ConfigRequired
		}
		return NewS3Storage(*cfg.S3)
	default:
		return nil, &StorageError{Op: "open", Path: cfg.Backend, Err: ErrUnknownBackend}
	}
}

type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var (
	ErrNotFound         = errors.New("not found")
	ErrS3ConfigRequired = errors.New("s3 config required")
	ErrUnknownBackend   = errors.New("unknown backend")
	ErrInvalidPath      = errors.New("path escapes storage root")
)

func notFound(op, path string) error {
	return &StorageError{Op: op, Path: path, Err: ErrNotFound}
}
