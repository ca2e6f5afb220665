package source

import "fmt"

// ErrorCode classifies acquisition failures for machine consumption.
type ErrorCode string

const (
	ErrInvalidURL        ErrorCode = "invalid_url"
	ErrUnsupportedScheme ErrorCode = "unsupported_scheme"
	ErrNetworkError      ErrorCode = "network_error"
	ErrSizeExceeded      ErrorCode = "size_exceeded"
	ErrTimeout           ErrorCode = "timeout"
)

// SourceError is the typed failure returned by the acquirer.
type SourceError struct {
	Code     ErrorCode
	Location string // the URL or path being acquired
	Err      error  // underlying cause, may be nil
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("acquisition failed (%s): %s", e.Code, e.Location)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

func sourceErr(code ErrorCode, location string, err error) *SourceError {
	return &SourceError{Code: code, Location: location, Err: err}
}
