// Package store implements the filesystem-backed object store: one directory
// per bucket below a single root, one content blob plus one JSON metadata
// sidecar per object. All mutations go through write-to-temp + rename so
// concurrent readers observe either the previous or the next version in full.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"

	"github.com/wpnpeiris/fs-s3/internal/cors"
	"github.com/wpnpeiris/fs-s3/internal/event"
)

const (
	// metadataSuffix marks a metadata sidecar next to its content blob.
	metadataSuffix = ".fss3_metadata.json"
	// uploadsDirName holds in-flight multipart uploads below the root.
	uploadsDirName = ".fss3_uploads"
	// tmpDirName holds in-flight blob and sidecar writes below the root.
	// Temp files never live inside bucket directories, so every file below
	// a bucket is either an object blob or its sidecar.
	tmpDirName = ".fss3_tmp"

	// DefaultContentType is applied when an upload carries no Content-Type.
	DefaultContentType = "binary/octet-stream"
)

// Sentinel errors reported by store operations. Handlers match these with
// errors.Is and map them onto the S3 error-code table.
var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrBucketExists   = errors.New("bucket name is already taken")
	ErrBucketNotEmpty = errors.New("bucket not empty")
	ErrKeyNotFound    = errors.New("object not found")
	ErrDigestMismatch = errors.New("content md5 digest mismatch")
	ErrCorruptObject  = errors.New("object blob has no metadata sidecar")
	ErrSameObjectCopy = errors.New("copy source and destination are the same object")
	ErrUploadNotFound = errors.New("multipart upload not found")
	ErrInvalidPart    = errors.New("invalid multipart part")
)

// WebsiteConfig holds a bucket's static-website routing documents.
type WebsiteConfig struct {
	IndexDocument string
	ErrorDocument string
}

// Bucket describes a bucket directory for listings.
type Bucket struct {
	Name         string
	CreationTime time.Time
}

// Store owns the data root directory for the lifetime of the process.
type Store struct {
	root   string
	logger log.Logger
	bus    *event.Bus

	// Per-bucket runtime configuration. Held in memory: a single process
	// owns the data root, and config files inside bucket directories would
	// break the bucket-empty rule.
	cfgMu   sync.RWMutex
	cors    map[string]*cors.Configuration
	website map[string]*WebsiteConfig

	// mpMu serialises multipart upload directory mutations.
	mpMu sync.Mutex
}

// New creates a store rooted at root, creating the directory when absent.
// bus may be nil when notifications are not wanted.
func New(logger log.Logger, root string, bus *event.Bus) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root directory is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{
		root:    root,
		logger:  logger,
		bus:     bus,
		cors:    make(map[string]*cors.Configuration),
		website: make(map[string]*WebsiteConfig),
	}, nil
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) publish(ev event.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func (s *Store) bucketPath(bucket string) string {
	return filepath.Join(s.root, bucket)
}

// tempFile opens a temp file in the reserved temp directory. Renames from
// there stay on the same filesystem as the buckets.
func (s *Store) tempFile(pattern string) (*os.File, error) {
	dir := filepath.Join(s.root, tmpDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	return os.CreateTemp(dir, pattern)
}

// objectPath resolves a key below its bucket directory, refusing anything
// that escapes it.
func (s *Store) objectPath(bucket, key string) (string, error) {
	bucketDir := s.bucketPath(bucket)
	resolved := filepath.Join(bucketDir, filepath.FromSlash(key))
	if resolved != bucketDir && !strings.HasPrefix(resolved, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes bucket directory", key)
	}
	return resolved, nil
}

// BucketExists reports whether a bucket directory is present.
func (s *Store) BucketExists(bucket string) bool {
	info, err := os.Stat(s.bucketPath(bucket))
	return err == nil && info.IsDir()
}

// CreateBucket creates the bucket directory. Creating an existing bucket is
// idempotent: this server owns every bucket below its root. A non-directory
// occupying the name means the root holds foreign state and the name is taken.
func (s *Store) CreateBucket(bucket string) error {
	path := s.bucketPath(bucket)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return nil
		}
		return ErrBucketExists
	}
	return os.MkdirAll(path, 0o755)
}

// DeleteBucket removes the bucket directory when it holds no objects.
// Metadata sidecars and empty key-directories do not count as objects.
func (s *Store) DeleteBucket(bucket string) error {
	path := s.bucketPath(bucket)
	if !s.BucketExists(bucket) {
		return ErrBucketNotFound
	}

	empty := true
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !strings.HasSuffix(d.Name(), metadataSuffix) {
			empty = false
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan bucket %s: %w", bucket, err)
	}
	if !empty {
		return ErrBucketNotEmpty
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove bucket %s: %w", bucket, err)
	}

	s.cfgMu.Lock()
	delete(s.cors, bucket)
	delete(s.website, bucket)
	s.cfgMu.Unlock()
	return nil
}

// ListBuckets enumerates bucket directories sorted by name. The creation time
// is the directory's mtime.
func (s *Store) ListBuckets() ([]Bucket, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}

	var buckets []Bucket
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		buckets = append(buckets, Bucket{Name: entry.Name(), CreationTime: info.ModTime()})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

// RemoveAllBuckets recursively empties the data root while preserving the
// root directory itself. Applied at shutdown when configured.
func (s *Store) RemoveAllBuckets() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read store root: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	s.cfgMu.Lock()
	s.cors = make(map[string]*cors.Configuration)
	s.website = make(map[string]*WebsiteConfig)
	s.cfgMu.Unlock()
	return nil
}

// SetBucketCors installs a CORS configuration for the bucket.
func (s *Store) SetBucketCors(bucket string, cfg *cors.Configuration) error {
	if !s.BucketExists(bucket) {
		return ErrBucketNotFound
	}
	s.cfgMu.Lock()
	s.cors[bucket] = cfg
	s.cfgMu.Unlock()
	return nil
}

// GetBucketCors returns the bucket's CORS configuration, or nil when unset.
func (s *Store) GetBucketCors(bucket string) (*cors.Configuration, error) {
	if !s.BucketExists(bucket) {
		return nil, ErrBucketNotFound
	}
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cors[bucket], nil
}

// DeleteBucketCors removes the bucket's CORS configuration.
func (s *Store) DeleteBucketCors(bucket string) error {
	if !s.BucketExists(bucket) {
		return ErrBucketNotFound
	}
	s.cfgMu.Lock()
	delete(s.cors, bucket)
	s.cfgMu.Unlock()
	return nil
}

// SetBucketWebsite installs a website configuration for the bucket.
func (s *Store) SetBucketWebsite(bucket string, cfg *WebsiteConfig) error {
	if !s.BucketExists(bucket) {
		return ErrBucketNotFound
	}
	s.cfgMu.Lock()
	s.website[bucket] = cfg
	s.cfgMu.Unlock()
	return nil
}

// GetBucketWebsite returns the bucket's website configuration, or nil.
func (s *Store) GetBucketWebsite(bucket string) (*WebsiteConfig, error) {
	if !s.BucketExists(bucket) {
		return nil, ErrBucketNotFound
	}
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.website[bucket], nil
}

// DeleteBucketWebsite removes the bucket's website configuration.
func (s *Store) DeleteBucketWebsite(bucket string) error {
	if !s.BucketExists(bucket) {
		return ErrBucketNotFound
	}
	s.cfgMu.Lock()
	delete(s.website, bucket)
	s.cfgMu.Unlock()
	return nil
}
