package vision

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// DefaultAllowedPrefixes are the image hosts emoji URLs may point at.
var DefaultAllowedPrefixes = []string{
	"https://cdn.discordapp.com/emojis/",
	"https://media.discordapp.net/emojis/",
}

type prefixRule struct {
	scheme string
	host   string
	port   int
	path   string
}

// URLPolicy decides which image URLs a Fetcher may request. Emoji URLs come
// from inventory files, so anything outside the allowed prefixes is refused.
type URLPolicy struct {
	rules        []prefixRule
	allowPrivate bool
}

// NewURLPolicy parses allowed "scheme://host[:port]/path" prefixes. An empty
// list is rejected.
func NewURLPolicy(prefixes []string, allowPrivate bool) (*URLPolicy, error) {
	var rules []prefixRule
	seen := map[prefixRule]bool{}
	for _, raw := range prefixes {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid url prefix %q", raw)
		}
		if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
			return nil, fmt.Errorf("url prefix %q must not carry userinfo, query or fragment", raw)
		}
		r := prefixRule{
			scheme: strings.ToLower(u.Scheme),
			host:   strings.ToLower(u.Hostname()),
			port:   effectivePort(u),
			path:   cleanPath(u.Path),
		}
		if r.scheme != "http" && r.scheme != "https" {
			return nil, fmt.Errorf("url prefix %q has unsupported scheme", raw)
		}
		if r.host == "" || r.port <= 0 || r.port > 65535 {
			return nil, fmt.Errorf("url prefix %q has no usable host or port", raw)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		rules = append(rules, r)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no url prefixes allowed")
	}
	return &URLPolicy{rules: rules, allowPrivate: allowPrivate}, nil
}

// MustURLPolicy is NewURLPolicy for static prefix lists.
func MustURLPolicy(prefixes []string) *URLPolicy {
	p, err := NewURLPolicy(prefixes, false)
	if err != nil {
		panic(err)
	}
	return p
}

// Check returns nil when u may be fetched. A nil policy allows everything.
func (p *URLPolicy) Check(u *url.URL) error {
	if p == nil {
		return nil
	}
	if u == nil {
		return fmt.Errorf("nil url")
	}
	if u.User != nil {
		return fmt.Errorf("userinfo in url is not allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("url host is empty")
	}
	if !p.allowPrivate {
		if host == "localhost" {
			return fmt.Errorf("localhost is not allowed")
		}
		if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("private ip %q is not allowed", host)
		}
	}

	scheme := strings.ToLower(u.Scheme)
	port := effectivePort(u)
	reqPath := cleanPath(u.Path)
	for _, r := range p.rules {
		if r.scheme == scheme && r.host == host && r.port == port && pathPrefixMatch(reqPath, r.path) {
			return nil
		}
	}
	return fmt.Errorf("url %q is not in the allowed prefixes", u.Redacted())
}

func effectivePort(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		return n
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func pathPrefixMatch(reqPath, prefix string) bool {
	return prefix == "/" || reqPath == prefix || strings.HasPrefix(reqPath, prefix+"/")
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsPrivate()
}
