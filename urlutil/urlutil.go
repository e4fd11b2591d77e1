// Package urlutil validates request URLs against SSRF targets and
// normalizes them for cache keying.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/webpeel/webpeel/models"
)

// MaxURLLength is the longest URL accepted anywhere in the pipeline.
const MaxURLLength = 2048

// AllowLocal disables the address blocklist. Meant for self-hosted
// deployments that peel intranet pages, and for tests fetching from
// loopback servers. Set once at startup, before any request is served.
var AllowLocal bool

// ParseAndValidate parses rawURL and enforces the request-safety rules:
// length, control characters, scheme, and the SSRF address blocklist.
// Every redirect hop must pass through here again before being dispatched.
func ParseAndValidate(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, models.NewValidationError(models.ErrCodeInvalidURL, "url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return nil, models.NewValidationError(models.ErrCodeInvalidURL,
			fmt.Sprintf("url exceeds maximum length of %d", MaxURLLength))
	}
	for _, r := range rawURL {
		if r < 0x20 || r == 0x7f {
			return nil, models.NewValidationError(models.ErrCodeInvalidURL, "url contains control characters")
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeInvalidURL, "invalid url: "+err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, models.NewValidationError(models.ErrCodeInvalidURL,
			fmt.Sprintf("scheme %q is not allowed, only http and https", u.Scheme))
	}
	if u.Hostname() == "" {
		return nil, models.NewValidationError(models.ErrCodeInvalidURL, "url has no host")
	}

	if err := ValidateHost(u.Hostname()); err != nil {
		return nil, err
	}
	return u, nil
}

// ValidateHost rejects hostnames that parse as an IP address in any
// notation (dotted, hex, octal, plain integer, mixed, IPv6, v4-mapped)
// and fall into a forbidden range.
func ValidateHost(hostname string) error {
	hostname = strings.Trim(hostname, "[]")

	if AllowLocal {
		return nil
	}
	ip := parseAnyIP(hostname)
	if ip == nil {
		return nil
	}
	return classifyIP(ip)
}

// classifyIP maps a literal IP to the SSRF policy.
func classifyIP(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	switch {
	case ip.IsLoopback():
		return ssrfErr("loopback")
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return ssrfErr("link-local")
	case ip.IsPrivate(): // 10/8, 172.16/12, 192.168/16, fc00::/7
		return ssrfErr("private")
	case ip.IsUnspecified():
		return ssrfErr("unspecified")
	}

	if v4 := ip.To4(); v4 != nil {
		if v4[0] == 0 {
			return ssrfErr("reserved")
		}
		if v4.Equal(net.IPv4bcast) {
			return ssrfErr("broadcast")
		}
	}
	return nil
}

func ssrfErr(class string) *models.PeelError {
	e := models.NewValidationError(models.ErrCodeSSRFBlocked,
		fmt.Sprintf("Access to %s addresses is not allowed", class))
	e.Hint = "webpeel only fetches publicly routable hosts"
	return e
}

// parseAnyIP parses hostname as an IP address in any notation the
// inet_aton family accepts: dotted quad, hex (0x7f000001), octal
// (0177.0.0.1), plain decimal (2130706433), short forms (127.1), and
// standard IPv6 including ::ffff: mapped addresses. Returns nil when the
// hostname is not an address literal.
func parseAnyIP(hostname string) net.IP {
	if hostname == "" {
		return nil
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}
	return parseLegacyIPv4(hostname)
}

// parseLegacyIPv4 implements inet_aton semantics: 1-4 dot-separated
// numeric parts, each in decimal, hex (0x), or octal (leading 0), with
// the final part filling the remaining bytes.
func parseLegacyIPv4(s string) net.IP {
	parts := strings.Split(s, ".")
	if len(parts) > 4 {
		return nil
	}

	vals := make([]uint64, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil
		}
		v, err := parseNumericPart(p)
		if err != nil {
			return nil
		}
		vals[i] = v
	}

	var addr uint64
	switch len(vals) {
	case 1:
		addr = vals[0]
	case 2: // a.b -> a is byte 1, b fills 24 bits
		if vals[0] > 0xff || vals[1] > 0xffffff {
			return nil
		}
		addr = vals[0]<<24 | vals[1]
	case 3: // a.b.c -> c fills 16 bits
		if vals[0] > 0xff || vals[1] > 0xff || vals[2] > 0xffff {
			return nil
		}
		addr = vals[0]<<24 | vals[1]<<16 | vals[2]
	case 4:
		for _, v := range vals {
			if v > 0xff {
				return nil
			}
		}
		addr = vals[0]<<24 | vals[1]<<16 | vals[2]<<8 | vals[3]
	}
	if addr > 0xffffffff {
		return nil
	}
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

// parseNumericPart parses one inet_aton component: 0x.. hex, 0.. octal,
// otherwise decimal. Rejects anything with non-numeric characters so
// ordinary hostnames never parse as addresses.
func parseNumericPart(p string) (uint64, error) {
	if len(p) > 2 && (p[:2] == "0x" || p[:2] == "0X") {
		return strconv.ParseUint(p[2:], 16, 64)
	}
	if len(p) > 1 && p[0] == '0' {
		return strconv.ParseUint(p[1:], 8, 64)
	}
	return strconv.ParseUint(p, 10, 64)
}

// Normalize canonicalizes a URL for cache keying: lowercased host,
// default port stripped, empty path becomes "/", fragment removed,
// query parameters sorted.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && !isDefaultPort(u.Scheme, port) {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	query := ""
	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vs := values[k]
			sort.Strings(vs)
			for _, v := range vs {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		query = "?" + b.String()
	}

	return strings.ToLower(u.Scheme) + "://" + host + path + query
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// Fingerprint is the cache key for a request: SHA-256 over the normalized
// URL plus the options hash.
func Fingerprint(rawURL, optionsHash string) string {
	sum := sha256.Sum256([]byte(Normalize(rawURL) + "|" + optionsHash))
	return hex.EncodeToString(sum[:])
}

// ContentFingerprint hashes distilled content for change tracking.
func ContentFingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
