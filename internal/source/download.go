package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/extpack-labs/extpack/internal/branding"
	"github.com/extpack-labs/extpack/internal/security"
)

// Downloader fetches remote URLs through the cache. It never retries;
// retry policy belongs to the orchestrator.
type Downloader struct {
	client   *http.Client
	cache    *Cache
	limits   Limits
	progress ProgressFunc
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) { d.client = c }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) DownloaderOption {
	return func(d *Downloader) { d.progress = fn }
}

// NewDownloader creates a Downloader writing into cache with the given
// limits.
func NewDownloader(cache *Cache, limits Limits, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: http.DefaultClient,
		cache:  cache,
		limits: limits,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download validates the URL, consults the cache, and otherwise streams
// the body to disk with a running byte counter that aborts the instant
// the size ceiling is crossed. The useCache flag also controls whether a
// successful download is stored for next time.
func (d *Downloader) Download(ctx context.Context, src ExtensionSource, useCache bool) (*AcquiredArtifact, []security.Finding, error) {
	var findings []security.Finding
	if finding, err := ValidateURL(src.Location, d.limits); err != nil {
		if finding != nil {
			findings = append(findings, *finding)
		}
		return nil, findings, err
	}

	if useCache {
		if path, meta, ok := d.cache.Lookup(src.Location); ok {
			artifact := &AcquiredArtifact{
				Source:      src,
				FilePath:    path,
				ContentType: meta.ContentType,
				Size:        meta.Size,
				FromCache:   true,
			}
			if err := verifyChecksum(artifact.FilePath, src.Checksum); err != nil {
				return nil, findings, err
			}
			return artifact, findings, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return nil, findings, sourceErr(ErrInvalidURL, src.Location, err)
	}
	req.Header.Set("User-Agent", branding.CLIName()+"-installer")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, findings, classifyTransportErr(src.Location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, findings, sourceErr(ErrNetworkError, src.Location, fmt.Errorf("server returned status %d", resp.StatusCode))
	}

	// Content-Length, when present, lets us refuse before reading a byte.
	if resp.ContentLength > 0 && d.limits.MaxDownloadBytes > 0 && resp.ContentLength > d.limits.MaxDownloadBytes {
		return nil, findings, sourceErr(ErrSizeExceeded, src.Location, fmt.Errorf("Content-Length %d exceeds ceiling %d", resp.ContentLength, d.limits.MaxDownloadBytes))
	}

	tmp, err := d.cache.StageFile()
	if err != nil {
		return nil, findings, err
	}
	tmpName := tmp.Name()

	size, err := d.streamBody(ctx, resp, tmp, src.Location)
	tmp.Close()
	if err != nil {
		os.Remove(tmpName) // never leave a partial file behind
		return nil, findings, err
	}

	if err := verifyChecksum(tmpName, src.Checksum); err != nil {
		os.Remove(tmpName)
		return nil, findings, err
	}

	artifact := &AcquiredArtifact{
		Source:      src,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        size,
	}

	if useCache {
		path, err := d.cache.Store(tmpName, CacheMeta{
			URL:         src.Location,
			ETag:        resp.Header.Get("ETag"),
			ContentType: artifact.ContentType,
			Size:        size,
			FetchedAt:   nowUTC(),
		})
		if err != nil {
			os.Remove(tmpName)
			return nil, findings, err
		}
		artifact.FilePath = path
	} else {
		artifact.FilePath = tmpName
		artifact.temps = append(artifact.temps, tmpName)
	}

	return artifact, findings, nil
}

// streamBody copies the response body to out, counting bytes against the
// ceiling and emitting progress at a fixed cadence.
func (d *Downloader) streamBody(ctx context.Context, resp *http.Response, out io.Writer, location string) (int64, error) {
	tracker := newProgressTracker(d.progress, resp.ContentLength)

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return downloaded, classifyTransportErr(location, err)
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			downloaded += int64(n)
			if d.limits.MaxDownloadBytes > 0 && downloaded > d.limits.MaxDownloadBytes {
				return downloaded, sourceErr(ErrSizeExceeded, location, fmt.Errorf("download exceeded ceiling of %d bytes", d.limits.MaxDownloadBytes))
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return downloaded, fmt.Errorf("writing download: %w", writeErr)
			}
			tracker.update(downloaded, false)
		}
		if readErr == io.EOF {
			tracker.update(downloaded, true)
			return downloaded, nil
		}
		if readErr != nil {
			return downloaded, classifyTransportErr(location, readErr)
		}
	}
}

// classifyTransportErr maps transport failures onto the error taxonomy:
// deadline expiry is a Timeout, everything else a NetworkError.
func classifyTransportErr(location string, err error) *SourceError {
	if errors.Is(err, context.DeadlineExceeded) {
		return sourceErr(ErrTimeout, location, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return sourceErr(ErrTimeout, location, err)
	}
	return sourceErr(ErrNetworkError, location, err)
}

// verifyChecksum compares the file's sha256 against an expected hex
// digest. An empty expectation skips the check.
func verifyChecksum(path, expected string) error {
	if expected == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening download for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("computing checksum: %w", err)
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return sourceErr(ErrNetworkError, path, fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual))
	}
	return nil
}
