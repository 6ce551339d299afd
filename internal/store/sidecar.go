package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// sidecar is the persisted metadata document written next to every blob.
// last-modified is RFC-3339; etag is hex without quotes; metadata keys are
// lowercased user names without the x-amz-meta- prefix.
type sidecar struct {
	ContentType        string            `json:"content-type"`
	ContentEncoding    string            `json:"content-encoding,omitempty"`
	ContentDisposition string            `json:"content-disposition,omitempty"`
	CacheControl       string            `json:"cache-control,omitempty"`
	Expires            string            `json:"expires,omitempty"`
	ETag               string            `json:"etag"`
	LastModified       time.Time         `json:"last-modified"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

func sidecarPath(blobPath string) string {
	return blobPath + metadataSuffix
}

// writeSidecar persists the sidecar atomically: write to a temp file in the
// reserved temp directory, then rename into place.
func (s *Store) writeSidecar(blobPath string, sc sidecar) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	tmp, err := s.tempFile("sidecar-*")
	if err != nil {
		return fmt.Errorf("create sidecar temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close sidecar temp file: %w", err)
	}
	if err := os.Rename(tmpName, sidecarPath(blobPath)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename sidecar into place: %w", err)
	}
	return nil
}

// readSidecar loads the sidecar for a blob. When the blob exists but the
// sidecar does not, the writer may be between its two renames; retry once
// before reporting the object as corrupt.
func readSidecar(blobPath string) (sidecar, error) {
	var sc sidecar
	data, err := os.ReadFile(sidecarPath(blobPath))
	if os.IsNotExist(err) {
		time.Sleep(20 * time.Millisecond)
		data, err = os.ReadFile(sidecarPath(blobPath))
		if os.IsNotExist(err) {
			return sc, ErrCorruptObject
		}
	}
	if err != nil {
		return sc, fmt.Errorf("read sidecar: %w", err)
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("decode sidecar: %w", err)
	}
	return sc, nil
}
