package source

import (
	"errors"
	"strings"
	"testing"

	"github.com/extpack-labs/extpack/internal/security"
)

func TestValidateURLAcceptsHTTP(t *testing.T) {
	limits := DefaultLimits()
	for _, raw := range []string{
		"https://example.com/pkg.zip",
		"http://example.com/pkg.tar.gz",
		"https://cdn.example.com/path/to/extension.zip?sig=abc",
	} {
		if !IsValidURL(raw, limits) {
			t.Errorf("IsValidURL(%q) = false, want true", raw)
		}
	}
}

func TestValidateURLRejectsSchemes(t *testing.T) {
	limits := DefaultLimits()
	for _, raw := range []string{
		"javascript:alert(1)",
		"data:text/html;base64,PGh0bWw+",
		"file:///etc/passwd",
		"ftp://example.com/pkg.zip",
	} {
		finding, err := ValidateURL(raw, limits)
		if err == nil {
			t.Errorf("ValidateURL(%q) = nil error, want UnsupportedScheme", raw)
			continue
		}
		var srcErr *SourceError
		if !errors.As(err, &srcErr) || srcErr.Code != ErrUnsupportedScheme {
			t.Errorf("ValidateURL(%q) code = %v, want unsupported_scheme", raw, err)
		}
		if finding == nil || finding.Category != security.CategoryDisallowedScheme {
			t.Errorf("ValidateURL(%q) finding = %v, want disallowed-scheme", raw, finding)
		}
	}
}

func TestValidateURLLengthCeiling(t *testing.T) {
	limits := DefaultLimits()
	raw := "https://example.com/" + strings.Repeat("a", limits.MaxURLLength)

	_, err := ValidateURL(raw, limits)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Code != ErrInvalidURL {
		t.Fatalf("err = %v, want invalid_url", err)
	}
}

func TestValidateURLAllowListIsAuthoritative(t *testing.T) {
	limits := DefaultLimits()
	limits.AllowedDomains = []string{"trusted.example.com"}
	// Block-list must be ignored when the allow-list is present.
	limits.BlockedDomains = []string{"trusted.example.com"}

	if !IsValidURL("https://trusted.example.com/pkg.zip", limits) {
		t.Error("allow-listed host rejected")
	}
	if !IsValidURL("https://sub.trusted.example.com/pkg.zip", limits) {
		t.Error("subdomain of allow-listed host rejected")
	}
	if IsValidURL("https://other.example.com/pkg.zip", limits) {
		t.Error("host outside allow-list accepted")
	}
}

func TestValidateURLBlockList(t *testing.T) {
	limits := DefaultLimits()
	limits.BlockedDomains = []string{"evil.example.com"}

	if IsValidURL("https://evil.example.com/pkg.zip", limits) {
		t.Error("blocked host accepted")
	}
	if IsValidURL("https://pkg.evil.example.com/pkg.zip", limits) {
		t.Error("subdomain of blocked host accepted")
	}
	if !IsValidURL("https://example.com/pkg.zip", limits) {
		t.Error("unrelated host rejected")
	}
}

func TestParseSource(t *testing.T) {
	cases := []struct {
		location string
		want     Kind
	}{
		{"https://example.com/pkg.zip", KindRemoteURL},
		{"http://example.com/pkg.tar.gz", KindRemoteURL},
		{"javascript:alert(1)", KindRemoteURL}, // classified as URL, rejected by validation
		{"https://github.com/org/repo.git", KindGitRepository},
		{"git@github.com:org/repo.git", KindGitRepository},
		{"git://host/repo", KindGitRepository},
		{"ssh://git@host/repo.git", KindGitRepository},
		{"./local/pkg.zip", KindLocalPath},
		{"/abs/path/to/extension", KindLocalPath},
		{"relative/dir", KindLocalPath},
		{`C:\packages\ext.zip`, KindLocalPath},
	}
	for _, tc := range cases {
		got := ParseSource(tc.location, "", "")
		if got.Kind != tc.want {
			t.Errorf("ParseSource(%q).Kind = %s, want %s", tc.location, got.Kind, tc.want)
		}
	}
}
