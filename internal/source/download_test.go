package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testDownloader(t *testing.T, limits Limits, opts ...DownloaderOption) (*Downloader, *Cache) {
	t.Helper()
	cache := &Cache{Dir: filepath.Join(t.TempDir(), "cache")}
	return NewDownloader(cache, limits, opts...), cache
}

func TestDownloadStoresInCache(t *testing.T) {
	content := "extension package bytes"
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("ETag", `"abc123"`)
		w.Write([]byte(content))
	}))
	defer server.Close()

	d, _ := testDownloader(t, DefaultLimits())
	src := ParseSource(server.URL+"/pkg.zip", "", "")

	artifact, _, err := d.Download(context.Background(), src, true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if artifact.FromCache {
		t.Error("first download reported FromCache")
	}
	if artifact.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", artifact.Size, len(content))
	}
	data, err := os.ReadFile(artifact.FilePath)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != content {
		t.Errorf("downloaded content = %q", data)
	}

	// Second acquisition must hit the cache and skip the network.
	cached, _, err := d.Download(context.Background(), src, true)
	if err != nil {
		t.Fatalf("cached Download: %v", err)
	}
	if !cached.FromCache {
		t.Error("second download did not report FromCache")
	}
	if hits != 1 {
		t.Errorf("server hits = %d, want 1 (cache must skip the network)", hits)
	}
	if cached.ContentType != "application/zip" {
		t.Errorf("cached ContentType = %q", cached.ContentType)
	}
}

func TestDownloadNoCacheBypassesCache(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("bytes"))
	}))
	defer server.Close()

	d, _ := testDownloader(t, DefaultLimits())
	src := ParseSource(server.URL+"/pkg.zip", "", "")

	for i := 0; i < 2; i++ {
		artifact, _, err := d.Download(context.Background(), src, false)
		if err != nil {
			t.Fatalf("Download %d: %v", i, err)
		}
		artifact.Cleanup()
		if _, statErr := os.Stat(artifact.FilePath); !os.IsNotExist(statErr) {
			t.Error("Cleanup left the temp download behind")
		}
	}
	if hits != 2 {
		t.Errorf("server hits = %d, want 2 with cache bypassed", hits)
	}
}

func TestDownloadSizeExceededMidTransfer(t *testing.T) {
	// No Content-Length: the server streams more than the ceiling so the
	// running counter has to abort mid-transfer.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		chunk := strings.Repeat("x", 1024)
		for i := 0; i < 64; i++ {
			if _, err := w.Write([]byte(chunk)); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer server.Close()

	limits := DefaultLimits()
	limits.MaxDownloadBytes = 8 * 1024
	d, cache := testDownloader(t, limits)
	src := ParseSource(server.URL+"/huge.zip", "", "")

	_, _, err := d.Download(context.Background(), src, true)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Code != ErrSizeExceeded {
		t.Fatalf("err = %v, want size_exceeded", err)
	}

	// No partial file may remain at the final cache location, and no
	// stray temp either.
	if _, _, ok := cache.Lookup(src.Location); ok {
		t.Error("aborted download visible in cache")
	}
	entries, _ := os.ReadDir(cache.Dir)
	for _, e := range entries {
		t.Errorf("leftover cache file after abort: %s", e.Name())
	}
}

func TestDownloadContentLengthPreflight(t *testing.T) {
	body := strings.Repeat("x", 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body)) // Content-Length set automatically
	}))
	defer server.Close()

	limits := DefaultLimits()
	limits.MaxDownloadBytes = 1024
	d, _ := testDownloader(t, limits)

	_, _, err := d.Download(context.Background(), ParseSource(server.URL, "", ""), true)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Code != ErrSizeExceeded {
		t.Fatalf("err = %v, want size_exceeded from the preflight", err)
	}
}

func TestDownloadTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	d, _ := testDownloader(t, DefaultLimits())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := d.Download(ctx, ParseSource(server.URL+"/slow.zip", "", ""), true)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Code != ErrTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestDownloadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	d, _ := testDownloader(t, DefaultLimits())
	_, _, err := d.Download(context.Background(), ParseSource(server.URL+"/missing.zip", "", ""), true)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Code != ErrNetworkError {
		t.Fatalf("err = %v, want network_error", err)
	}
}

func TestDownloadRejectsBadSchemeWithoutIO(t *testing.T) {
	// No server at all: scheme validation must fail before any dial.
	d, _ := testDownloader(t, DefaultLimits())
	_, findings, err := d.Download(context.Background(), ParseSource("ftp://example.com/pkg.zip", "", ""), true)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Code != ErrUnsupportedScheme {
		t.Fatalf("err = %v, want unsupported_scheme", err)
	}
	if len(findings) != 1 {
		t.Errorf("findings = %v, want the disallowed-scheme finding", findings)
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actual content"))
	}))
	defer server.Close()

	d, cache := testDownloader(t, DefaultLimits())
	src := ParseSource(server.URL+"/pkg.zip", "", strings.Repeat("0", 64))

	_, _, err := d.Download(context.Background(), src, true)
	if err == nil {
		t.Fatal("Download succeeded despite checksum mismatch")
	}
	if _, _, ok := cache.Lookup(src.Location); ok {
		t.Error("mismatched download stored in cache")
	}
}

func TestDownloadProgressReported(t *testing.T) {
	body := strings.Repeat("x", 256*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	var snapshots []Progress
	d, _ := testDownloader(t, DefaultLimits(), WithProgress(func(p Progress) {
		snapshots = append(snapshots, p)
	}))

	if _, _, err := d.Download(context.Background(), ParseSource(server.URL, "", ""), true); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(snapshots) == 0 {
		t.Fatal("no progress reported")
	}
	final := snapshots[len(snapshots)-1]
	if final.Downloaded != int64(len(body)) {
		t.Errorf("final Downloaded = %d, want %d", final.Downloaded, len(body))
	}
	// httptest sends this body chunked, so no Content-Length reaches the
	// tracker; completion must still report a full final snapshot.
	if final.Total != int64(len(body)) {
		t.Errorf("final Total = %d, want %d", final.Total, len(body))
	}
	if final.Percent != 100 {
		t.Errorf("final Percent = %v, want 100", final.Percent)
	}
}

func TestAcquireLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("name: x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	artifact, err := acquireLocal(ParseSource(dir, "", ""))
	if err != nil {
		t.Fatalf("acquireLocal: %v", err)
	}
	if artifact.Dir != dir {
		t.Errorf("Dir = %q, want %q", artifact.Dir, dir)
	}
	// Cleanup must never remove the user's own directory.
	artifact.Cleanup()
	if _, err := os.Stat(filepath.Join(dir, "manifest.yaml")); err != nil {
		t.Errorf("Cleanup removed the local source: %v", err)
	}
}

func TestAcquireLocalMissingPath(t *testing.T) {
	_, err := acquireLocal(ParseSource(filepath.Join(t.TempDir(), "absent"), "", ""))
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Code != ErrInvalidURL {
		t.Fatalf("err = %v, want invalid_url", err)
	}
}
