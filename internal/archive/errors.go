package archive

import "fmt"

// ErrorCode classifies extraction failures for machine consumption.
type ErrorCode string

const (
	ErrPathTraversal     ErrorCode = "path_traversal"
	ErrArchiveBomb       ErrorCode = "archive_bomb"
	ErrUnsupportedFormat ErrorCode = "unsupported_format"
	ErrCorruptArchive    ErrorCode = "corrupt_archive"
)

// ExtractionError is the typed failure returned by Extract.
type ExtractionError struct {
	Code ErrorCode
	Path string // offending entry or archive path
	Err  error  // underlying cause, may be nil
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction failed (%s): %s", e.Code, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func extractionErr(code ErrorCode, path string, err error) *ExtractionError {
	return &ExtractionError{Code: code, Path: path, Err: err}
}
