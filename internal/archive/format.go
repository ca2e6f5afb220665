package archive

import (
	"bytes"
	"os"
	"strings"
)

// Format identifies a supported container format.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTarGz  Format = "tar.gz"
	FormatTarBz2 Format = "tar.bz2"
)

var magicPrefixes = []struct {
	prefix []byte
	format Format
}{
	{[]byte{'P', 'K', 0x03, 0x04}, FormatZip},
	{[]byte{0x1f, 0x8b}, FormatTarGz},
	{[]byte{'B', 'Z', 'h'}, FormatTarBz2},
}

// DetectFormat sniffs the archive's magic bytes, falling back to the file
// extension when the header is too short to be conclusive.
func DetectFormat(archivePath string) (Format, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", extractionErr(ErrCorruptArchive, archivePath, err)
	}
	defer f.Close()

	head := make([]byte, 4)
	n, _ := f.Read(head)
	head = head[:n]

	for _, m := range magicPrefixes {
		if bytes.HasPrefix(head, m.prefix) {
			return m.format, nil
		}
	}

	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(archivePath, ".tar.bz2"), strings.HasSuffix(archivePath, ".tbz2"):
		return FormatTarBz2, nil
	}

	return "", extractionErr(ErrUnsupportedFormat, archivePath, nil)
}
