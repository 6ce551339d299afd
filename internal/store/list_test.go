package store

import (
	"errors"
	"strings"
	"testing"
)

func seedKeys(t *testing.T, s *Store, bucket string, keys []string) {
	t.Helper()
	mustCreateBucket(t, s, bucket)
	for _, key := range keys {
		mustPut(t, s, bucket, key, "content of "+key, PutOptions{})
	}
}

func TestListAllKeysSorted(t *testing.T) {
	s, _ := newTestStore(t)
	seedKeys(t, s, "bucket", []string{"zebra", "alpha", "nested/deep/key", "middle"})

	res, err := s.ListObjects("bucket", ListQuery{})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"alpha", "middle", "nested/deep/key", "zebra"}
	if len(res.Objects) != len(want) {
		t.Fatalf("got %d objects, want %d", len(res.Objects), len(want))
	}
	for i, key := range want {
		if res.Objects[i].Key != key {
			t.Fatalf("object %d = %s, want %s", i, res.Objects[i].Key, key)
		}
	}
	if res.IsTruncated {
		t.Fatal("unexpected truncation")
	}
}

func TestListWithDelimiter(t *testing.T) {
	s, _ := newTestStore(t)
	seedKeys(t, s, "bucket", []string{"akey1", "akey2", "akey3", "key/key1", "key1", "key2", "key3"})

	res, err := s.ListObjects("bucket", ListQuery{Delimiter: "/"})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(res.Objects) != 6 {
		t.Fatalf("got %d contents, want 6", len(res.Objects))
	}
	if len(res.CommonPrefixes) != 1 || res.CommonPrefixes[0] != "key/" {
		t.Fatalf("common prefixes = %v, want [key/]", res.CommonPrefixes)
	}
}

func TestListWithPrefixAndDelimiter(t *testing.T) {
	s, _ := newTestStore(t)
	seedKeys(t, s, "bucket", []string{
		"photos/2024/a.jpg", "photos/2024/b.jpg", "photos/2025/c.jpg", "photos/readme.txt", "other.txt",
	})

	res, err := s.ListObjects("bucket", ListQuery{Prefix: "photos/", Delimiter: "/"})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(res.Objects) != 1 || res.Objects[0].Key != "photos/readme.txt" {
		t.Fatalf("contents = %+v", res.Objects)
	}
	wantPrefixes := []string{"photos/2024/", "photos/2025/"}
	if len(res.CommonPrefixes) != len(wantPrefixes) {
		t.Fatalf("common prefixes = %v", res.CommonPrefixes)
	}
	for i, p := range wantPrefixes {
		if res.CommonPrefixes[i] != p {
			t.Fatalf("prefix %d = %s, want %s", i, res.CommonPrefixes[i], p)
		}
	}
}

func TestListPartitionProperty(t *testing.T) {
	s, _ := newTestStore(t)
	keys := []string{"a/1", "a/2", "b", "c", "ca", "cb/x/y"}
	seedKeys(t, s, "bucket", keys)

	res, err := s.ListObjects("bucket", ListQuery{Delimiter: "/"})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}

	seen := make(map[string]bool)
	for _, o := range res.Objects {
		if seen[o.Key] {
			t.Fatalf("duplicate entry %s", o.Key)
		}
		seen[o.Key] = true
		if strings.Contains(o.Key, "/") {
			t.Fatalf("delimited content %s should be a common prefix", o.Key)
		}
	}
	for _, p := range res.CommonPrefixes {
		if seen[p] {
			t.Fatalf("entry %s appears twice", p)
		}
		seen[p] = true
		if !strings.HasSuffix(p, "/") {
			t.Fatalf("common prefix %s does not end with delimiter", p)
		}
	}

	// Every key is covered by exactly one entry.
	for _, key := range keys {
		covered := seen[key]
		for p := range seen {
			if strings.HasSuffix(p, "/") && strings.HasPrefix(key, p) {
				covered = true
			}
		}
		if !covered {
			t.Fatalf("key %s not covered by the partition", key)
		}
	}
}

func TestListMarker(t *testing.T) {
	s, _ := newTestStore(t)
	seedKeys(t, s, "bucket", []string{"a", "b", "c", "d"})

	res, err := s.ListObjects("bucket", ListQuery{Marker: "b"})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(res.Objects) != 2 || res.Objects[0].Key != "c" || res.Objects[1].Key != "d" {
		t.Fatalf("objects after marker b: %+v", res.Objects)
	}
}

func TestListTruncation(t *testing.T) {
	s, _ := newTestStore(t)
	seedKeys(t, s, "bucket", []string{"k1", "k2", "k3", "k4", "k5"})

	res, err := s.ListObjects("bucket", ListQuery{MaxKeys: 2})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(res.Objects) != 2 || !res.IsTruncated {
		t.Fatalf("page = %+v", res)
	}
	if res.NextMarker != "k2" {
		t.Fatalf("NextMarker = %s, want k2", res.NextMarker)
	}

	// Continue from the marker and drain the rest.
	res, err = s.ListObjects("bucket", ListQuery{Marker: res.NextMarker})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(res.Objects) != 3 || res.IsTruncated {
		t.Fatalf("second page = %+v", res)
	}
}

func TestListCommonPrefixesCountTowardMaxKeys(t *testing.T) {
	s, _ := newTestStore(t)
	seedKeys(t, s, "bucket", []string{"a/1", "b", "c/1", "d"})

	res, err := s.ListObjects("bucket", ListQuery{Delimiter: "/", MaxKeys: 3})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	total := len(res.Objects) + len(res.CommonPrefixes)
	if total != 3 || !res.IsTruncated {
		t.Fatalf("page = %+v", res)
	}
}

func TestListIncludesDotPrefixedKeys(t *testing.T) {
	s, _ := newTestStore(t)
	seedKeys(t, s, "bucket", []string{".upload-report", ".sidecar-notes", "visible"})

	res, err := s.ListObjects("bucket", ListQuery{})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{".sidecar-notes", ".upload-report", "visible"}
	if len(res.Objects) != len(want) {
		t.Fatalf("got %d objects, want %d", len(res.Objects), len(want))
	}
	for i, key := range want {
		if res.Objects[i].Key != key {
			t.Fatalf("object %d = %s, want %s", i, res.Objects[i].Key, key)
		}
	}

	// The listing and the bucket-empty rule agree on what is an object.
	if err := s.DeleteBucket("bucket"); !errors.Is(err, ErrBucketNotEmpty) {
		t.Fatalf("err = %v, want ErrBucketNotEmpty", err)
	}
}

func TestListMissingBucket(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.ListObjects("missing", ListQuery{}); err != ErrBucketNotFound {
		t.Fatalf("err = %v, want ErrBucketNotFound", err)
	}
}
