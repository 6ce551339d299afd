package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wpnpeiris/fs-s3/internal/event"
	"github.com/wpnpeiris/fs-s3/internal/metrics"
)

// PutOptions carries the upload headers persisted into the sidecar.
type PutOptions struct {
	ContentType        string
	ContentEncoding    string
	ContentDisposition string
	CacheControl       string
	Expires            string
	// ContentMD5 is the base64 Content-MD5 request header. When set, the
	// streamed digest must match or the write is discarded.
	ContentMD5 string
	// Metadata maps lowercased user metadata names (without the x-amz-meta-
	// prefix) to values.
	Metadata map[string]string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket             string
	Key                string
	Size               int64
	ETag               string // hex md5 without quotes
	LastModified       time.Time
	ContentType        string
	ContentEncoding    string
	ContentDisposition string
	CacheControl       string
	Expires            string
	Metadata           map[string]string
}

func infoFromSidecar(bucket, key string, size int64, sc sidecar) ObjectInfo {
	return ObjectInfo{
		Bucket:             bucket,
		Key:                key,
		Size:               size,
		ETag:               sc.ETag,
		LastModified:       sc.LastModified,
		ContentType:        sc.ContentType,
		ContentEncoding:    sc.ContentEncoding,
		ContentDisposition: sc.ContentDisposition,
		CacheControl:       sc.CacheControl,
		Expires:            sc.Expires,
		Metadata:           sc.Metadata,
	}
}

// PutObject streams body into the bucket under key and emits
// ObjectCreated:Put. An existing object at the key is replaced atomically.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	return s.putStream(ctx, bucket, key, body, opts, event.ObjectCreatedPut)
}

// putStream is the shared write path for uploads, copies and completed
// multipart uploads. The blob is renamed into place before the sidecar.
func (s *Store) putStream(ctx context.Context, bucket, key string, body io.Reader, opts PutOptions, eventName string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	if !s.BucketExists(bucket) {
		return ObjectInfo{}, ErrBucketNotFound
	}

	blobPath, err := s.objectPath(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}

	tmp, err := s.tempFile("upload-*")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("create upload temp file: %w", err)
	}
	tmpName := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), body)
	if err != nil {
		// Client disconnects land here: no blob, no sidecar, no event.
		discard()
		return ObjectInfo{}, fmt.Errorf("stream object body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ObjectInfo{}, fmt.Errorf("close upload temp file: %w", err)
	}

	digest := hash.Sum(nil)
	if opts.ContentMD5 != "" {
		expected, err := base64.StdEncoding.DecodeString(opts.ContentMD5)
		if err != nil || !bytes.Equal(expected, digest) {
			os.Remove(tmpName)
			return ObjectInfo{}, ErrDigestMismatch
		}
	}

	if dir := filepath.Dir(blobPath); dir != s.bucketPath(bucket) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			os.Remove(tmpName)
			return ObjectInfo{}, fmt.Errorf("create key directories: %w", err)
		}
	}

	sc := sidecar{
		ContentType:        opts.ContentType,
		ContentEncoding:    opts.ContentEncoding,
		ContentDisposition: opts.ContentDisposition,
		CacheControl:       opts.CacheControl,
		Expires:            opts.Expires,
		ETag:               hex.EncodeToString(digest),
		LastModified:       time.Now().UTC(),
		Metadata:           opts.Metadata,
	}
	if sc.ContentType == "" {
		sc.ContentType = DefaultContentType
	}

	// Blob first, then sidecar. Readers finding a blob without a sidecar
	// retry once (see readSidecar).
	if err := os.Rename(tmpName, blobPath); err != nil {
		os.Remove(tmpName)
		return ObjectInfo{}, fmt.Errorf("rename blob into place: %w", err)
	}
	if err := s.writeSidecar(blobPath, sc); err != nil {
		// The blob is already in place. Take it back out so the failed
		// write leaves no partial object behind.
		os.Remove(blobPath)
		os.Remove(sidecarPath(blobPath))
		return ObjectInfo{}, err
	}

	metrics.AddObjectBytesWritten(written)
	s.publish(event.Event{
		Name:   eventName,
		Bucket: bucket,
		Key:    key,
		Size:   written,
		ETag:   sc.ETag,
	})

	return infoFromSidecar(bucket, key, written, sc), nil
}

// GetObject opens an object for reading. The caller owns the returned reader.
// The reported size is the current on-disk length of the blob.
func (s *Store) GetObject(ctx context.Context, bucket, key string) (ObjectInfo, io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, nil, err
	}
	if !s.BucketExists(bucket) {
		return ObjectInfo{}, nil, ErrBucketNotFound
	}

	blobPath, err := s.objectPath(bucket, key)
	if err != nil {
		return ObjectInfo{}, nil, err
	}

	f, err := os.Open(blobPath)
	if os.IsNotExist(err) {
		return ObjectInfo{}, nil, ErrKeyNotFound
	}
	if err != nil {
		return ObjectInfo{}, nil, fmt.Errorf("open blob: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return ObjectInfo{}, nil, fmt.Errorf("stat blob: %w", err)
	}
	if stat.IsDir() {
		// Intermediate key-directories are not objects.
		f.Close()
		return ObjectInfo{}, nil, ErrKeyNotFound
	}

	sc, err := readSidecar(blobPath)
	if err != nil {
		f.Close()
		return ObjectInfo{}, nil, err
	}

	return infoFromSidecar(bucket, key, stat.Size(), sc), f, nil
}

// StatObject returns object metadata without opening the blob for reading.
func (s *Store) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, rc, err := s.GetObject(ctx, bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	rc.Close()
	return info, nil
}

// CopyObject copies source to destination. With replace false the source's
// sidecar travels verbatim; with replace true the supplied options win. A
// same-object copy without replace is rejected.
func (s *Store) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, replace bool, opts PutOptions) (ObjectInfo, error) {
	if srcBucket == dstBucket && srcKey == dstKey && !replace {
		return ObjectInfo{}, ErrSameObjectCopy
	}

	srcInfo, rc, err := s.GetObject(ctx, srcBucket, srcKey)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer rc.Close()

	if !replace {
		opts = PutOptions{
			ContentType:        srcInfo.ContentType,
			ContentEncoding:    srcInfo.ContentEncoding,
			ContentDisposition: srcInfo.ContentDisposition,
			CacheControl:       srcInfo.CacheControl,
			Expires:            srcInfo.Expires,
			Metadata:           srcInfo.Metadata,
		}
	}

	return s.putStream(ctx, dstBucket, dstKey, rc, opts, event.ObjectCreatedCopy)
}

// DeleteObject removes the blob and sidecar when present; absence is not an
// error. Empty ancestor directories left behind by nested keys are pruned,
// never the bucket itself. Returns whether an object was actually removed.
func (s *Store) DeleteObject(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.BucketExists(bucket) {
		return false, ErrBucketNotFound
	}

	blobPath, err := s.objectPath(bucket, key)
	if err != nil {
		return false, err
	}

	stat, err := os.Stat(blobPath)
	if os.IsNotExist(err) || (err == nil && stat.IsDir()) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob: %w", err)
	}

	if err := os.Remove(blobPath); err != nil {
		return false, fmt.Errorf("remove blob: %w", err)
	}
	if err := os.Remove(sidecarPath(blobPath)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove sidecar: %w", err)
	}

	bucketDir := s.bucketPath(bucket)
	for dir := filepath.Dir(blobPath); dir != bucketDir; dir = filepath.Dir(dir) {
		// Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(dir); err != nil {
			break
		}
	}

	s.publish(event.Event{
		Name:   event.ObjectRemovedDelete,
		Bucket: bucket,
		Key:    key,
	})
	return true, nil
}
