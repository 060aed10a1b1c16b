// Package device derives device information and fingerprints from request metadata.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"strings"
)

// Unknown is the value for a field the user agent does not reveal.
const Unknown = "unknown"

// Info is the parsed shape of a user agent.
type Info struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Device  string `json:"device"`
}

// Parse extracts browser, OS and device type from a user agent. Missing fields are Unknown.
func Parse(userAgent string) Info {
	info := Info{Browser: Unknown, OS: Unknown, Device: Unknown}
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return info
	}

	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		info.Browser = "Edge"
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "crios"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, " ios"):
		info.OS = "iOS"
	case strings.Contains(ua, "macintosh") || strings.Contains(ua, "mac os"):
		info.OS = "macOS"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		info.Device = "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		info.Device = "mobile"
	default:
		info.Device = "desktop"
	}
	return info
}

// Fingerprint returns the hex SHA-256 of user agent and IP.
func Fingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + ":" + ip))
	return hex.EncodeToString(sum[:])
}

// ShortID is the truncated fingerprint carried in access tokens as device_id.
func ShortID(fingerprint string) string {
	if len(fingerprint) <= 16 {
		return fingerprint
	}
	return fingerprint[:16]
}

// Consistent compares browser and OS between the session's device and the presenting one.
// Unknown values on either side never produce a mismatch. IP is not compared.
func Consistent(original, current Info) bool {
	return fieldMatches(original.Browser, current.Browser) && fieldMatches(original.OS, current.OS)
}

func fieldMatches(a, b string) bool {
	if a == "" || b == "" || a == Unknown || b == Unknown {
		return true
	}
	return a == b
}

// Location classes reported for client addresses.
const (
	LocationLocal    = "Local"
	LocationInternal = "Internal"
	LocationExternal = "External"
	LocationUnknown  = "Unknown"
)

// LocationClass buckets an address as loopback, private network or public.
func LocationClass(ip string) string {
	if ip == "localhost" {
		return LocationLocal
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return LocationUnknown
	}
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return LocationLocal
	case addr.IsPrivate():
		return LocationInternal
	default:
		return LocationExternal
	}
}

// SameNetwork reports whether two addresses share a /24 (IPv4) or /64 (IPv6) prefix.
// Unparseable addresses never match.
func SameNetwork(a, b string) bool {
	pa, ok := prefix(a)
	if !ok {
		return false
	}
	pb, ok := prefix(b)
	if !ok {
		return false
	}
	return pa == pb
}

func prefix(ip string) (netip.Prefix, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	bits := 64
	if addr.Is4() {
		bits = 24
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}
