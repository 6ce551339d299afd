package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxKeysLimit caps max-keys for a single listing page.
const MaxKeysLimit = 1000

// ListQuery is a bucket listing request.
type ListQuery struct {
	Prefix    string
	Marker    string
	Delimiter string
	MaxKeys   int
}

// ListResult is one page of a bucket listing. Objects and CommonPrefixes
// partition the matching keys; together they hold at most MaxKeys entries.
type ListResult struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
	IsTruncated    bool
	NextMarker     string
}

// ListObjects pages through a bucket's keys in ascending code-point order.
// With a delimiter, keys sharing the substring between the prefix and the
// first delimiter occurrence collapse into a common prefix; common prefixes
// count toward MaxKeys alongside object entries.
func (s *Store) ListObjects(bucket string, q ListQuery) (ListResult, error) {
	if !s.BucketExists(bucket) {
		return ListResult{}, ErrBucketNotFound
	}

	keys, err := s.collectKeys(bucket)
	if err != nil {
		return ListResult{}, err
	}
	sort.Strings(keys)

	maxKeys := q.MaxKeys
	if maxKeys <= 0 || maxKeys > MaxKeysLimit {
		maxKeys = MaxKeysLimit
	}

	var result ListResult
	var lastEntry string
	seenPrefixes := make(map[string]bool)
	count := 0

	for _, key := range keys {
		if !strings.HasPrefix(key, q.Prefix) {
			continue
		}
		if q.Marker != "" && key <= q.Marker {
			continue
		}

		if q.Delimiter != "" {
			rest := key[len(q.Prefix):]
			if i := strings.Index(rest, q.Delimiter); i >= 0 {
				common := q.Prefix + rest[:i+len(q.Delimiter)]
				if seenPrefixes[common] {
					continue
				}
				if count == maxKeys {
					result.IsTruncated = true
					break
				}
				seenPrefixes[common] = true
				result.CommonPrefixes = append(result.CommonPrefixes, common)
				lastEntry = common
				count++
				continue
			}
		}

		if count == maxKeys {
			result.IsTruncated = true
			break
		}
		info, err := s.statListedKey(bucket, key)
		if err != nil {
			return ListResult{}, err
		}
		result.Objects = append(result.Objects, info)
		lastEntry = key
		count++
	}

	if result.IsTruncated {
		result.NextMarker = lastEntry
	}
	return result, nil
}

// collectKeys walks the bucket directory gathering object keys, skipping
// sidecars and directories.
func (s *Store) collectKeys(bucket string) ([]string, error) {
	bucketDir := s.bucketPath(bucket)
	var keys []string
	err := filepath.WalkDir(bucketDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// A concurrent delete can race the walk.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), metadataSuffix) {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bucket %s: %w", bucket, err)
	}
	return keys, nil
}

func (s *Store) statListedKey(bucket, key string) (ObjectInfo, error) {
	blobPath, err := s.objectPath(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	stat, err := os.Stat(blobPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat listed key %s: %w", key, err)
	}
	sc, err := readSidecar(blobPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	return infoFromSidecar(bucket, key, stat.Size(), sc), nil
}
