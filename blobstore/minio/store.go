package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/hupe1980/blkcache/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes a connection to a MinIO or other S3-compatible server.
type Config struct {
	Endpoint     string // host:port
	AccessKey    string
	SecretKey    string
	SessionToken string
	Secure       bool   // use TLS
	Region       string // optional

	Bucket string
	// CreateBucket makes New create Bucket when it does not exist.
	CreateBucket bool
}

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every object key, e.g. "devices/disk0".
	Prefix string
	// ContentMD5 sends a Content-MD5 header with every upload so the server
	// rejects payloads damaged in transit.
	ContentMD5 bool
	// StorageClass is passed through on upload. Empty means server default.
	StorageClass string
}

// Option configures a Store.
type Option func(*Options)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithContentMD5 enables Content-MD5 on uploads.
func WithContentMD5(enabled bool) Option {
	return func(o *Options) { o.ContentMD5 = enabled }
}

// WithStorageClass sets the storage class for uploaded blocks.
func WithStorageClass(class string) Option {
	return func(o *Options) { o.StorageClass = class }
}

// Store is a blobstore.BlobStore on one bucket of an S3-compatible server.
// Every blob is one object; reads are ranged GETs.
type Store struct {
	client *minio.Client
	bucket string
	opts   Options
}

var _ blobstore.BlobStore = (*Store)(nil)

// New connects to cfg.Endpoint with static credentials.
func New(ctx context.Context, cfg Config, optFns ...Option) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: connect %s: %w", cfg.Endpoint, err)
	}

	s := NewStore(client, cfg.Bucket, optFns...)
	if cfg.CreateBucket {
		if err := s.ensureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewStore returns a Store using an existing client.
func NewStore(client *minio.Client, bucket string, optFns ...Option) *Store {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{client: client, bucket: bucket, opts: opts}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("minio: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) key(name string) string {
	return path.Join(s.opts.Prefix, name)
}

// name is the inverse of key.
func (s *Store) name(key string) string {
	if s.opts.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, strings.TrimSuffix(s.opts.Prefix, "/")), "/")
}

// Open stats the object and returns a handle for ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, translate(err, key)
	}
	return &object{store: s, key: key, size: info.Size, etag: info.ETag}, nil
}

// Put uploads data in a single request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	key := s.key(name)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:    "application/octet-stream",
		SendContentMd5: s.opts.ContentMD5,
		StorageClass:   s.opts.StorageClass,
	})
	if err != nil {
		return fmt.Errorf("minio: put %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	key := s.key(name)

	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("minio: delete %s: %w", key, err)
	}
	return nil
}

// List returns the sorted blob names under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	// path.Join drops a trailing slash that scopes the listing to a directory.
	full := s.key(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio: list %s: %w", full, obj.Err)
		}
		if name := s.name(obj.Key); name != "" {
			names = append(names, name)
		}
	}

	slices.Sort(names)
	return names, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	default:
		return false
	}
}

// translate maps a missing object to blobstore.ErrNotFound.
func translate(err error, key string) error {
	if isNotFound(err) {
		return fmt.Errorf("minio: %s: %w", key, blobstore.ErrNotFound)
	}
	return fmt.Errorf("minio: %s: %w", key, err)
}

// object reads one stored blob. Reads are pinned to the ETag seen by Open,
// so a concurrent overwrite fails the read instead of mixing versions.
type object struct {
	store *Store
	key   string
	size  int64
	etag  string
}

func (o *object) Size() int64  { return o.size }
func (o *object) Close() error { return nil }

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	want := min(int64(len(p)), o.size-off)

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, off+want-1); err != nil {
		return 0, err
	}
	if o.etag != "" {
		if err := opts.SetMatchETag(o.etag); err != nil {
			return 0, err
		}
	}

	r, err := o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
	if err != nil {
		return 0, translate(err, o.key)
	}
	defer func() { _ = r.Close() }()

	n, err := io.ReadFull(r, p[:want])
	if err != nil {
		return n, translate(err, o.key)
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}
