package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wpnpeiris/fs-s3/internal/event"
)

// MaxPartNumber is the highest accepted multipart part number.
const MaxPartNumber = 10000

// MultipartUpload is the persisted state of an in-flight upload session.
type MultipartUpload struct {
	ID        string     `json:"id"`
	Bucket    string     `json:"bucket"`
	Key       string     `json:"key"`
	Initiated time.Time  `json:"initiated"`
	Options   PutOptions `json:"options"`
}

// PartInfo describes one uploaded part.
type PartInfo struct {
	PartNumber   int
	Size         int64
	ETag         string
	LastModified time.Time
}

func (s *Store) uploadDir(uploadID string) (string, error) {
	// Upload ids are uuids; anything else cannot name a directory here.
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", ErrUploadNotFound
	}
	return filepath.Join(s.root, uploadsDirName, uploadID), nil
}

func partPath(dir string, partNumber int) string {
	return filepath.Join(dir, "part."+strconv.Itoa(partNumber))
}

// InitiateMultipartUpload opens an upload session for (bucket, key) and
// returns its id. Upload headers are captured now and applied on completion.
func (s *Store) InitiateMultipartUpload(ctx context.Context, bucket, key string, opts PutOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !s.BucketExists(bucket) {
		return "", ErrBucketNotFound
	}

	upload := MultipartUpload{
		ID:        uuid.New().String(),
		Bucket:    bucket,
		Key:       key,
		Initiated: time.Now().UTC(),
		Options:   opts,
	}

	dir, err := s.uploadDir(upload.ID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	if err := s.writeUploadMeta(dir, upload); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return upload.ID, nil
}

func (s *Store) writeUploadMeta(dir string, upload MultipartUpload) error {
	data, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("encode upload meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600); err != nil {
		return fmt.Errorf("write upload meta: %w", err)
	}
	return nil
}

func (s *Store) readUploadMeta(uploadID string) (MultipartUpload, string, error) {
	var upload MultipartUpload
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return upload, "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if os.IsNotExist(err) {
		return upload, "", ErrUploadNotFound
	}
	if err != nil {
		return upload, "", fmt.Errorf("read upload meta: %w", err)
	}
	if err := json.Unmarshal(data, &upload); err != nil {
		return upload, "", fmt.Errorf("decode upload meta: %w", err)
	}
	return upload, dir, nil
}

// PutPart stores one part of an upload session and returns its etag.
// Re-uploading a part number replaces the previous part.
func (s *Store) PutPart(ctx context.Context, uploadID string, partNumber int, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if partNumber < 1 || partNumber > MaxPartNumber {
		return "", ErrInvalidPart
	}
	_, dir, err := s.readUploadMeta(uploadID)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return "", fmt.Errorf("create part temp file: %w", err)
	}
	tmpName := tmp.Name()

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("stream part body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close part temp file: %w", err)
	}

	etag := hex.EncodeToString(hash.Sum(nil))

	s.mpMu.Lock()
	defer s.mpMu.Unlock()
	if err := os.Rename(tmpName, partPath(dir, partNumber)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename part into place: %w", err)
	}
	if err := os.WriteFile(partPath(dir, partNumber)+".md5", []byte(etag), 0o600); err != nil {
		return "", fmt.Errorf("write part digest: %w", err)
	}
	return etag, nil
}

// ListParts returns the session and its uploaded parts in part-number order.
func (s *Store) ListParts(ctx context.Context, uploadID string) (MultipartUpload, []PartInfo, error) {
	if err := ctx.Err(); err != nil {
		return MultipartUpload{}, nil, err
	}
	upload, dir, err := s.readUploadMeta(uploadID)
	if err != nil {
		return MultipartUpload{}, nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return MultipartUpload{}, nil, fmt.Errorf("read upload directory: %w", err)
	}

	var parts []PartInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "part.") || strings.HasSuffix(name, ".md5") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "part."))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		etagBytes, err := os.ReadFile(filepath.Join(dir, name+".md5"))
		if err != nil {
			return MultipartUpload{}, nil, fmt.Errorf("read part digest: %w", err)
		}
		parts = append(parts, PartInfo{
			PartNumber:   n,
			Size:         info.Size(),
			ETag:         string(etagBytes),
			LastModified: info.ModTime(),
		})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return upload, parts, nil
}

// AbortMultipartUpload discards the session and all uploaded parts.
func (s *Store) AbortMultipartUpload(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, dir, err := s.readUploadMeta(uploadID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove upload directory: %w", err)
	}
	return nil
}

// CompleteMultipartUpload concatenates the named parts in ascending
// part-number order into the final object, which replaces any existing object
// at the key atomically. The resulting etag is the md5 of the whole content.
func (s *Store) CompleteMultipartUpload(ctx context.Context, uploadID string, partNumbers []int) (ObjectInfo, error) {
	upload, dir, err := s.readUploadMeta(uploadID)
	if err != nil {
		return ObjectInfo{}, err
	}
	if len(partNumbers) == 0 {
		return ObjectInfo{}, ErrInvalidPart
	}

	sorted := make([]int, len(partNumbers))
	copy(sorted, partNumbers)
	sort.Ints(sorted)

	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	readers := make([]io.Reader, 0, len(sorted))
	for _, n := range sorted {
		f, err := os.Open(partPath(dir, n))
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrInvalidPart
		}
		if err != nil {
			return ObjectInfo{}, fmt.Errorf("open part %d: %w", n, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	info, err := s.putStream(ctx, upload.Bucket, upload.Key, io.MultiReader(readers...), upload.Options, event.ObjectCreatedPut)
	if err != nil {
		return ObjectInfo{}, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return ObjectInfo{}, fmt.Errorf("remove completed upload directory: %w", err)
	}
	return info, nil
}
