package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kit/log"

	"github.com/wpnpeiris/fs-s3/internal/cors"
	"github.com/wpnpeiris/fs-s3/internal/event"
)

func newTestStore(t *testing.T) (*Store, *event.Bus) {
	t.Helper()
	bus := event.NewBus(log.NewNopLogger())
	s, err := New(log.NewNopLogger(), t.TempDir(), bus)
	if err != nil {
		t.Fatalf("New store failed: %v", err)
	}
	return s, bus
}

func mustCreateBucket(t *testing.T, s *Store, bucket string) {
	t.Helper()
	if err := s.CreateBucket(bucket); err != nil {
		t.Fatalf("CreateBucket(%s) failed: %v", bucket, err)
	}
}

func mustPut(t *testing.T, s *Store, bucket, key, body string, opts PutOptions) ObjectInfo {
	t.Helper()
	info, err := s.PutObject(context.Background(), bucket, key, strings.NewReader(body), opts)
	if err != nil {
		t.Fatalf("PutObject(%s/%s) failed: %v", bucket, key, err)
	}
	return info
}

func TestPutGetRoundtrip(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")

	info := mustPut(t, s, "bucket", "text", "Hello!", PutOptions{})
	if info.ETag != "952d2c56d0485958336747bcdd98590d" {
		t.Fatalf("etag = %s, want md5 of body", info.ETag)
	}
	if info.Size != 6 {
		t.Fatalf("size = %d, want 6", info.Size)
	}
	if info.ContentType != DefaultContentType {
		t.Fatalf("content type = %s, want %s", info.ContentType, DefaultContentType)
	}

	got, rc, err := s.GetObject(context.Background(), "bucket", "text")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	if !bytes.Equal(body, []byte("Hello!")) {
		t.Fatalf("body = %q", body)
	}
	if got.ETag != info.ETag || got.Size != info.Size {
		t.Fatalf("read-back info mismatch: %+v vs %+v", got, info)
	}
}

func TestPutIntoMissingBucket(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.PutObject(context.Background(), "nope", "k", strings.NewReader("x"), PutOptions{})
	if !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("err = %v, want ErrBucketNotFound", err)
	}
}

func TestPutContentMD5(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")

	// md5("Hello!") in base64.
	if _, err := s.PutObject(context.Background(), "bucket", "k",
		strings.NewReader("Hello!"), PutOptions{ContentMD5: "lS0sVtBIWVgzZ0e83ZhZDQ=="}); err != nil {
		t.Fatalf("matching Content-MD5 rejected: %v", err)
	}

	_, err := s.PutObject(context.Background(), "bucket", "k2",
		strings.NewReader("different body"), PutOptions{ContentMD5: "lS0sVtBIWVgzZ0e83ZhZDQ=="})
	if !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("err = %v, want ErrDigestMismatch", err)
	}
	if _, err := s.StatObject(context.Background(), "bucket", "k2"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatal("failed upload left an object behind")
	}
}

func TestPutReplacesExisting(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")

	mustPut(t, s, "bucket", "k", "first version", PutOptions{ContentType: "text/plain"})
	info := mustPut(t, s, "bucket", "k", "v2", PutOptions{})

	got, err := s.StatObject(context.Background(), "bucket", "k")
	if err != nil {
		t.Fatalf("StatObject failed: %v", err)
	}
	if got.Size != 2 || got.ETag != info.ETag {
		t.Fatalf("replacement not observed: %+v", got)
	}
	if got.ContentType != DefaultContentType {
		t.Fatalf("old sidecar survived: content type %s", got.ContentType)
	}
}

func TestDeleteObjectPrunesAncestors(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")
	mustPut(t, s, "bucket", "a/b/c.txt", "data", PutOptions{})

	removed, err := s.DeleteObject(context.Background(), "bucket", "a/b/c.txt")
	if err != nil || !removed {
		t.Fatalf("DeleteObject = (%v, %v)", removed, err)
	}

	// Ancestor directories are gone, so the bucket is deletable.
	if err := s.DeleteBucket("bucket"); err != nil {
		t.Fatalf("DeleteBucket after prune failed: %v", err)
	}
}

func TestDeleteObjectAbsentIsNotAnError(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")

	removed, err := s.DeleteObject(context.Background(), "bucket", "never-existed")
	if err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if removed {
		t.Fatal("reported removal of an absent key")
	}
}

func TestDeleteBucketSemantics(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.DeleteBucket("missing"); !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("err = %v, want ErrBucketNotFound", err)
	}

	mustCreateBucket(t, s, "full")
	mustPut(t, s, "full", "k", "x", PutOptions{})
	if err := s.DeleteBucket("full"); !errors.Is(err, ErrBucketNotEmpty) {
		t.Fatalf("err = %v, want ErrBucketNotEmpty", err)
	}

	removed, err := s.DeleteObject(context.Background(), "full", "k")
	if err != nil || !removed {
		t.Fatalf("DeleteObject = (%v, %v)", removed, err)
	}
	if err := s.DeleteBucket("full"); err != nil {
		t.Fatalf("DeleteBucket of emptied bucket failed: %v", err)
	}
	if s.BucketExists("full") {
		t.Fatal("bucket still exists")
	}
}

func TestCreateBucketIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")
	mustCreateBucket(t, s, "bucket")
}

func TestCreateBucketNameTaken(t *testing.T) {
	s, _ := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.Root(), "clash"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file failed: %v", err)
	}
	if err := s.CreateBucket("clash"); !errors.Is(err, ErrBucketExists) {
		t.Fatalf("err = %v, want ErrBucketExists", err)
	}
}

func TestPutSidecarFailureLeavesNoObject(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")
	mustPut(t, s, "bucket", "k", "kept", PutOptions{})

	// A directory squatting on the sidecar path makes the sidecar rename
	// fail after the blob is in place.
	blob, err := s.objectPath("bucket", "k2")
	if err != nil {
		t.Fatalf("objectPath failed: %v", err)
	}
	if err := os.Mkdir(sidecarPath(blob), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	if _, err := s.PutObject(context.Background(), "bucket", "k2",
		strings.NewReader("data"), PutOptions{}); err == nil {
		t.Fatal("PutObject succeeded without writing a sidecar")
	}
	if _, err := s.StatObject(context.Background(), "bucket", "k2"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound for the partial object", err)
	}
	res, err := s.ListObjects("bucket", ListQuery{})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(res.Objects) != 1 || res.Objects[0].Key != "k" {
		t.Fatalf("objects = %+v, want only k", res.Objects)
	}
}

func TestCopyPreservesMetadata(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")
	mustPut(t, s, "bucket", "src", "image bytes", PutOptions{
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"somekey": "value"},
	})

	info, err := s.CopyObject(context.Background(), "bucket", "src", "bucket", "dst", false, PutOptions{})
	if err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}
	if info.ContentType != "image/jpeg" {
		t.Fatalf("content type = %s, want image/jpeg", info.ContentType)
	}
	if info.Metadata["somekey"] != "value" {
		t.Fatalf("metadata not preserved: %v", info.Metadata)
	}

	src, err := s.StatObject(context.Background(), "bucket", "src")
	if err != nil {
		t.Fatalf("StatObject(src) failed: %v", err)
	}
	if src.ETag != info.ETag {
		t.Fatalf("copy etag %s differs from source %s", info.ETag, src.ETag)
	}
}

func TestCopyReplaceDirective(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")
	mustPut(t, s, "bucket", "src", "data", PutOptions{
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"somekey": "value"},
	})

	info, err := s.CopyObject(context.Background(), "bucket", "src", "bucket", "dst", true, PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"newkey": "newvalue"},
	})
	if err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}
	if info.ContentType != "application/octet-stream" {
		t.Fatalf("content type = %s", info.ContentType)
	}
	if _, ok := info.Metadata["somekey"]; ok {
		t.Fatal("REPLACE kept source metadata")
	}
	if info.Metadata["newkey"] != "newvalue" {
		t.Fatalf("metadata = %v", info.Metadata)
	}
}

func TestCopySameObjectWithoutReplace(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")
	mustPut(t, s, "bucket", "k", "data", PutOptions{})

	_, err := s.CopyObject(context.Background(), "bucket", "k", "bucket", "k", false, PutOptions{})
	if !errors.Is(err, ErrSameObjectCopy) {
		t.Fatalf("err = %v, want ErrSameObjectCopy", err)
	}
	if _, err := s.CopyObject(context.Background(), "bucket", "k", "bucket", "k", true, PutOptions{}); err != nil {
		t.Fatalf("same-object copy with replace failed: %v", err)
	}
}

func TestMutationsEmitEvents(t *testing.T) {
	s, bus := newTestStore(t)
	mustCreateBucket(t, s, "bucket")

	var got []event.Event
	bus.Subscribe(func(ev event.Event) { got = append(got, ev) })

	mustPut(t, s, "bucket", "k", "Hello!", PutOptions{})
	if _, err := s.CopyObject(context.Background(), "bucket", "k", "bucket", "k2", false, PutOptions{}); err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}
	if _, err := s.DeleteObject(context.Background(), "bucket", "k2"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	// Deleting an absent key publishes nothing.
	if _, err := s.DeleteObject(context.Background(), "bucket", "absent"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}

	wantNames := []string{event.ObjectCreatedPut, event.ObjectCreatedCopy, event.ObjectRemovedDelete}
	if len(got) != len(wantNames) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(wantNames), got)
	}
	for i, name := range wantNames {
		if got[i].Name != name {
			t.Fatalf("event %d = %s, want %s", i, got[i].Name, name)
		}
	}
	if got[0].Size != 6 || got[0].ETag == "" {
		t.Fatalf("put event lacks size/etag: %+v", got[0])
	}
}

func TestListBucketsSkipsInternalDirectories(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "alpha")
	mustCreateBucket(t, s, "beta")

	// An in-flight multipart upload must not surface as a bucket.
	if _, err := s.InitiateMultipartUpload(context.Background(), "alpha", "k", PutOptions{}); err != nil {
		t.Fatalf("InitiateMultipartUpload failed: %v", err)
	}

	buckets, err := s.ListBuckets()
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 2 || buckets[0].Name != "alpha" || buckets[1].Name != "beta" {
		t.Fatalf("buckets = %+v", buckets)
	}
	for _, b := range buckets {
		if b.CreationTime.IsZero() {
			t.Fatalf("bucket %s has zero creation time", b.Name)
		}
	}
}

func TestBucketConfigLifecycle(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.GetBucketCors("missing"); !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("err = %v, want ErrBucketNotFound", err)
	}

	mustCreateBucket(t, s, "bucket")
	cfg := cors.Default()
	if err := s.SetBucketCors("bucket", cfg); err != nil {
		t.Fatalf("SetBucketCors failed: %v", err)
	}
	got, err := s.GetBucketCors("bucket")
	if err != nil || got != cfg {
		t.Fatalf("GetBucketCors = (%v, %v)", got, err)
	}
	if err := s.DeleteBucketCors("bucket"); err != nil {
		t.Fatalf("DeleteBucketCors failed: %v", err)
	}
	if got, _ := s.GetBucketCors("bucket"); got != nil {
		t.Fatal("CORS configuration survived delete")
	}

	web := &WebsiteConfig{IndexDocument: "index.html", ErrorDocument: "error.html"}
	if err := s.SetBucketWebsite("bucket", web); err != nil {
		t.Fatalf("SetBucketWebsite failed: %v", err)
	}
	if got, _ := s.GetBucketWebsite("bucket"); got != web {
		t.Fatal("website configuration not returned")
	}

	if err := s.DeleteBucket("bucket"); err != nil {
		t.Fatalf("DeleteBucket failed: %v", err)
	}
	mustCreateBucket(t, s, "bucket")
	if got, _ := s.GetBucketWebsite("bucket"); got != nil {
		t.Fatal("website configuration survived bucket deletion")
	}
}

func TestRemoveAllBuckets(t *testing.T) {
	s, _ := newTestStore(t)
	mustCreateBucket(t, s, "bucket")
	mustPut(t, s, "bucket", "k", "data", PutOptions{})

	if err := s.RemoveAllBuckets(); err != nil {
		t.Fatalf("RemoveAllBuckets failed: %v", err)
	}
	buckets, err := s.ListBuckets()
	if err != nil {
		t.Fatalf("ListBuckets after wipe failed: %v", err)
	}
	if len(buckets) != 0 {
		t.Fatalf("buckets survived wipe: %+v", buckets)
	}
	// Root itself is preserved.
	if err := s.CreateBucket("again"); err != nil {
		t.Fatalf("CreateBucket after wipe failed: %v", err)
	}
}
