package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/extpack-labs/extpack/internal/security"
)

// entryReader iterates over archive entries in a format-independent way.
// Next returns io.EOF after the last entry. The returned content reader is
// nil for directories and symlinks, and only valid until the next call.
type entryReader interface {
	Next() (security.Entry, io.Reader, error)
	Close() error
}

// openReader constructs the entry iterator for a detected format.
func openReader(archivePath string, format Format) (entryReader, error) {
	switch format {
	case FormatZip:
		return openZip(archivePath)
	case FormatTarGz, FormatTarBz2:
		return openTar(archivePath, format)
	default:
		return nil, extractionErr(ErrUnsupportedFormat, archivePath, nil)
	}
}

type zipEntryReader struct {
	rc   *zip.ReadCloser
	next int
}

func openZip(archivePath string) (entryReader, error) {
	rc, err := zip.OpenReader(archivePath)
	// ErrInsecurePath still yields a usable reader; the per-entry checks
	// report traversal with full findings instead of this blanket error.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, extractionErr(ErrCorruptArchive, archivePath, err)
	}
	return &zipEntryReader{rc: rc}, nil
}

func (z *zipEntryReader) Next() (security.Entry, io.Reader, error) {
	if z.next >= len(z.rc.File) {
		return security.Entry{}, nil, io.EOF
	}
	f := z.rc.File[z.next]
	z.next++

	mode := f.Mode()
	entry := security.Entry{
		Name: f.Name,
		Size: int64(f.UncompressedSize64),
		Mode: mode,
	}

	// Zip stores a symlink's target as the entry's content.
	if mode&fs.ModeSymlink != 0 {
		rc, err := f.Open()
		if err != nil {
			return entry, nil, extractionErr(ErrCorruptArchive, f.Name, err)
		}
		target, err := io.ReadAll(io.LimitReader(rc, 4096))
		rc.Close()
		if err != nil {
			return entry, nil, extractionErr(ErrCorruptArchive, f.Name, err)
		}
		entry.LinkTarget = string(target)
		return entry, nil, nil
	}

	if mode.IsDir() {
		return entry, nil, nil
	}

	rc, err := f.Open()
	if err != nil {
		return entry, nil, extractionErr(ErrCorruptArchive, f.Name, err)
	}
	// The caller fully consumes or abandons the reader before calling
	// Next again; leaked readers are released by Close on the outer
	// zip.ReadCloser.
	return entry, rc, nil
}

func (z *zipEntryReader) Close() error { return z.rc.Close() }

type tarEntryReader struct {
	f       *os.File
	gz      *gzip.Reader
	tr      *tar.Reader
	archive string
}

func openTar(archivePath string, format Format) (entryReader, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, extractionErr(ErrCorruptArchive, archivePath, err)
	}

	t := &tarEntryReader{f: f, archive: archivePath}
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, extractionErr(ErrCorruptArchive, archivePath, err)
		}
		t.gz = gz
		t.tr = tar.NewReader(gz)
	case FormatTarBz2:
		t.tr = tar.NewReader(bzip2.NewReader(f))
	}
	return t, nil
}

func (t *tarEntryReader) Next() (security.Entry, io.Reader, error) {
	for {
		hdr, err := t.tr.Next()
		if err == io.EOF {
			return security.Entry{}, nil, io.EOF
		}
		// See openZip: traversal is our checks' job, not GODEBUG's.
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return security.Entry{}, nil, extractionErr(ErrCorruptArchive, t.archive, err)
		}

		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue // pax metadata, not a real entry
		}

		entry := security.Entry{
			Name:       hdr.Name,
			Size:       hdr.Size,
			Mode:       hdr.FileInfo().Mode(),
			LinkTarget: hdr.Linkname,
		}

		if entry.Mode.IsRegular() {
			return entry, t.tr, nil
		}
		return entry, nil, nil
	}
}

func (t *tarEntryReader) Close() error {
	if t.gz != nil {
		t.gz.Close()
	}
	return t.f.Close()
}
