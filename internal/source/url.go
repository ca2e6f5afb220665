package source

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/extpack-labs/extpack/internal/security"
)

// Limits bounds URL acceptance and download size.
type Limits struct {
	MaxURLLength     int   // reject longer URLs before any parsing cost
	MaxDownloadBytes int64 // abort the transfer the instant this is crossed
	// AllowedDomains, when non-empty, is authoritative: only these
	// domains (and their subdomains) are accepted and BlockedDomains is
	// ignored.
	AllowedDomains []string
	BlockedDomains []string
}

// DefaultLimits allows 100 MB downloads from any http(s) host.
func DefaultLimits() Limits {
	return Limits{
		MaxURLLength:     2048,
		MaxDownloadBytes: 100 << 20,
	}
}

// ValidateURL checks a raw URL without any I/O: scheme, length, and the
// domain allow/block lists. It returns a SourceError plus the finding
// that explains the rejection (nil when the URL only fails parsing).
func ValidateURL(raw string, limits Limits) (*security.Finding, error) {
	if limits.MaxURLLength > 0 && len(raw) > limits.MaxURLLength {
		return nil, sourceErr(ErrInvalidURL, truncate(raw, 80), fmt.Errorf("URL length %d exceeds ceiling %d", len(raw), limits.MaxURLLength))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, sourceErr(ErrInvalidURL, raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		finding := &security.Finding{
			Severity: security.SeverityCritical,
			Category: security.CategoryDisallowedScheme,
			Path:     raw,
			Message:  fmt.Sprintf("scheme %q is not allowed; only http and https are", scheme),
		}
		return finding, sourceErr(ErrUnsupportedScheme, raw, fmt.Errorf("scheme %q", scheme))
	}
	if u.Hostname() == "" {
		return nil, sourceErr(ErrInvalidURL, raw, fmt.Errorf("missing host"))
	}

	host := strings.ToLower(u.Hostname())
	if len(limits.AllowedDomains) > 0 {
		if !matchesAny(host, limits.AllowedDomains) {
			return nil, sourceErr(ErrInvalidURL, raw, fmt.Errorf("host %q is not on the allow-list", host))
		}
		return nil, nil // allow-list is authoritative; block-list ignored
	}
	if matchesAny(host, limits.BlockedDomains) {
		return nil, sourceErr(ErrInvalidURL, raw, fmt.Errorf("host %q is blocked", host))
	}

	return nil, nil
}

// IsValidURL is the boolean convenience form of ValidateURL.
func IsValidURL(raw string, limits Limits) bool {
	_, err := ValidateURL(raw, limits)
	return err == nil
}

// matchesAny reports whether host equals a listed domain or is a
// subdomain of one.
func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
