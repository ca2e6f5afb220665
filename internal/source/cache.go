package source

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// Cache is the content-addressed download cache. Entries are keyed by a
// BLAKE3 hash of the URL; each entry is the downloaded bytes plus a JSON
// sidecar carrying conditional-fetch metadata. Writes go through a temp
// file and rename so a half-written entry is never visible.
type Cache struct {
	Dir string
}

// CacheMeta is the sidecar stored next to each cache entry.
type CacheMeta struct {
	URL         string    `json:"url"`
	ETag        string    `json:"etag,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Key derives the cache key for a URL. The stored ETag participates via
// the sidecar, not the key, so a URL always maps to one entry.
func (c *Cache) Key(url string) string {
	sum := blake3.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) dataPath(key string) string {
	return filepath.Join(c.Dir, key+".bin")
}

func (c *Cache) metaPath(key string) string {
	return filepath.Join(c.Dir, key+".json")
}

// Lookup returns the cached file path and metadata for a URL, or ok=false
// on a miss. An entry whose sidecar is unreadable counts as a miss.
func (c *Cache) Lookup(url string) (string, *CacheMeta, bool) {
	key := c.Key(url)
	data, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return "", nil, false
	}
	var meta CacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", nil, false
	}
	path := c.dataPath(key)
	if _, err := os.Stat(path); err != nil {
		return "", nil, false
	}
	return path, &meta, true
}

// Store moves a fully downloaded temp file into the cache and writes its
// sidecar. The temp file must live on the same filesystem as the cache
// directory (StageFile guarantees this).
func (c *Cache) Store(tempFile string, meta CacheMeta) (string, error) {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	key := c.Key(meta.URL)

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling cache metadata: %w", err)
	}
	metaTmp, err := os.CreateTemp(c.Dir, ".meta-")
	if err != nil {
		return "", fmt.Errorf("creating cache metadata temp: %w", err)
	}
	if _, err := metaTmp.Write(metaBytes); err != nil {
		metaTmp.Close()
		os.Remove(metaTmp.Name())
		return "", fmt.Errorf("writing cache metadata: %w", err)
	}
	metaTmp.Close()

	dataPath := c.dataPath(key)
	if err := os.Rename(tempFile, dataPath); err != nil {
		os.Remove(metaTmp.Name())
		return "", fmt.Errorf("committing cache entry: %w", err)
	}
	if err := os.Rename(metaTmp.Name(), c.metaPath(key)); err != nil {
		return "", fmt.Errorf("committing cache metadata: %w", err)
	}
	return dataPath, nil
}

// StageFile creates a temp file inside the cache directory so the final
// Store rename stays on one filesystem.
func (c *Cache) StageFile() (*os.File, error) {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	f, err := os.CreateTemp(c.Dir, ".download-")
	if err != nil {
		return nil, fmt.Errorf("creating download temp file: %w", err)
	}
	return f, nil
}
