package validator

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidURL  = errors.New("invalid URL")
	ErrInvalidCode = errors.New("invalid custom code")
)

const (
	MinCodeLength = 3
	MaxCodeLength = 20
)

var validCode = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidURL reports whether raw is an absolute http or https URL with a host.
// The opaque form "http:example.com" has no host and is rejected.
func IsValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// IsValidCustomCode reports whether code is 3-20 characters of [A-Za-z0-9_-]
func IsValidCustomCode(code string) bool {
	return len(code) >= MinCodeLength &&
		len(code) <= MaxCodeLength &&
		validCode.MatchString(code)
}

// URLValidator validates URL inputs
type URLValidator struct {
	maxLength       int
	blockedDomains  []string
	reservedCodes   []string
	blockPrivateIPs bool
}

// NewURLValidator creates a validator with default settings
func NewURLValidator() *URLValidator {
	return &URLValidator{
		maxLength:      2048,
		blockedDomains: []string{},
		reservedCodes:  []string{},
	}
}

// ValidateURL validates a URL string
func (v *URLValidator) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}

	if len(rawURL) > v.maxLength {
		return fmt.Errorf("%w: exceeds maximum length of %d characters", ErrInvalidURL, v.maxLength)
	}

	if !IsValidURL(rawURL) {
		return fmt.Errorf("%w: must be an absolute http:// or https:// URL", ErrInvalidURL)
	}

	parsedURL, _ := url.Parse(rawURL)
	host := parsedURL.Hostname()

	if v.isBlockedDomain(host) {
		return fmt.Errorf("%w: domain %q is not allowed", ErrInvalidURL, host)
	}

	if v.blockPrivateIPs && isPrivateHost(host) {
		return fmt.Errorf("%w: private and loopback hosts are not allowed", ErrInvalidURL)
	}

	return nil
}

// ValidateCustomCode validates a user-chosen short code
func (v *URLValidator) ValidateCustomCode(code string) error {
	if !IsValidCustomCode(code) {
		return fmt.Errorf("%w: use %d-%d letters, digits, hyphens or underscores",
			ErrInvalidCode, MinCodeLength, MaxCodeLength)
	}

	for _, r := range v.reservedCodes {
		if strings.EqualFold(code, r) {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidCode, code)
		}
	}

	return nil
}

// ============================================================
// HELPER METHODS
// ============================================================

func (v *URLValidator) isBlockedDomain(host string) bool {
	host = strings.ToLower(host)
	for _, blocked := range v.blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()
}

// ============================================================
// CONFIGURATION METHODS
// ============================================================

// WithMaxLength sets maximum URL length
func (v *URLValidator) WithMaxLength(length int) *URLValidator {
	v.maxLength = length
	return v
}

// WithBlockedDomains adds domains to block list
func (v *URLValidator) WithBlockedDomains(domains ...string) *URLValidator {
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			v.blockedDomains = append(v.blockedDomains, d)
		}
	}
	return v
}

// WithReservedCodes rejects custom codes that would shadow other routes
func (v *URLValidator) WithReservedCodes(codes ...string) *URLValidator {
	v.reservedCodes = append(v.reservedCodes, codes...)
	return v
}

// WithBlockPrivateIPs rejects URLs pointing at loopback or private hosts
func (v *URLValidator) WithBlockPrivateIPs() *URLValidator {
	v.blockPrivateIPs = true
	return v
}
