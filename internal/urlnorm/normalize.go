// Package urlnorm canonicalizes URLs into the stable form used for
// deduplication and storage identity.
package urlnorm

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
)

// DefaultTrackingParams are query parameters stripped during normalization.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"gclid", "fbclid", "msclkid", "ref", "referrer",
	"_ga", "_gid", "sessionid", "jsessionid",
}

// binaryExtensions lists path suffixes that never yield crawlable HTML.
var binaryExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".rar": {}, ".tar": {}, ".gz": {}, ".7z": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".svg": {}, ".webp": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {},
	".exe": {}, ".msi": {}, ".dmg": {}, ".deb": {}, ".rpm": {},
}

// Options configures a Normalizer.
type Options struct {
	// MaxLength rejects URLs longer than this many bytes. Zero means 2000.
	MaxLength int
	// StripParams are query parameter names removed during normalization.
	// Nil means DefaultTrackingParams.
	StripParams []string
	// DeniedCIDRs rejects URLs whose host is an IP literal inside any of
	// these ranges.
	DeniedCIDRs []string
}

// Normalizer canonicalizes and validates URLs.
type Normalizer struct {
	maxLength   int
	stripParams map[string]struct{}
	deniedNets  []*net.IPNet
}

// New builds a Normalizer, parsing any configured denied CIDR ranges.
func New(opts Options) (*Normalizer, error) {
	maxLen := opts.MaxLength
	if maxLen <= 0 {
		maxLen = 2000
	}
	params := opts.StripParams
	if params == nil {
		params = DefaultTrackingParams
	}
	strip := make(map[string]struct{}, len(params))
	for _, p := range params {
		strip[strings.ToLower(p)] = struct{}{}
	}
	nets := make([]*net.IPNet, 0, len(opts.DeniedCIDRs))
	for _, cidr := range opts.DeniedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse denied cidr %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}
	return &Normalizer{maxLength: maxLen, stripParams: strip, deniedNets: nets}, nil
}

// Normalize canonicalizes raw into the fingerprint form: lowercase scheme
// and host, default ports stripped, fragment removed, tracking parameters
// dropped, remaining query sorted, path cleaned. The result is idempotent
// under Normalize.
func (n *Normalizer) Normalize(raw string) (string, error) {
	if len(raw) > n.maxLength {
		return "", fmt.Errorf("url exceeds %d bytes", n.maxLength)
	}
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return n.normalizeParsed(parsed)
}

// Resolve normalizes href against the absolute base URL.
func (n *Normalizer) Resolve(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	rel, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	resolved := baseURL.ResolveReference(rel)
	if len(resolved.String()) > n.maxLength {
		return "", fmt.Errorf("url exceeds %d bytes", n.maxLength)
	}
	return n.normalizeParsed(resolved)
}

func (n *Normalizer) normalizeParsed(u *url.URL) (string, error) {
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if err := n.checkHost(host); err != nil {
		return "", err
	}

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.Path == "" {
		u.Path = "/"
	} else {
		cleaned := path.Clean(u.Path)
		if strings.HasSuffix(u.Path, "/") && cleaned != "/" {
			cleaned += "/"
		}
		u.Path = cleaned
	}
	// Drop RawPath so String() re-encodes the decoded path uniformly.
	u.RawPath = ""

	u.RawQuery = n.normalizeQuery(u.Query())

	out := u.String()
	if len(out) > n.maxLength {
		return "", fmt.Errorf("url exceeds %d bytes", n.maxLength)
	}
	return out, nil
}

func (n *Normalizer) normalizeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	kept := url.Values{}
	for key, vals := range q {
		if _, drop := n.stripParams[strings.ToLower(key)]; drop {
			continue
		}
		sorted := append([]string(nil), vals...)
		sort.Strings(sorted)
		kept[key] = sorted
	}
	// url.Values.Encode sorts by key.
	return kept.Encode()
}

func (n *Normalizer) checkHost(host string) error {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	for _, ipNet := range n.deniedNets {
		if ipNet.Contains(ip) {
			return fmt.Errorf("host %s is in denied range %s", host, ipNet)
		}
	}
	return nil
}

// Host extracts the lowercase hostname from a URL, or "" if unparseable.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameHost reports whether two URLs share a hostname, case-insensitively.
func SameHost(a, b string) bool {
	ha, hb := Host(a), Host(b)
	return ha != "" && ha == hb
}

// HasBinaryExtension reports whether the URL path ends in an extension
// that cannot contain HTML, such as an image or archive.
func HasBinaryExtension(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, ok := binaryExtensions[ext]
	return ok
}
