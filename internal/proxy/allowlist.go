package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Allowlist decides which TiTiler deployments the proxy may call. Entries are
// either origins ("https://titiler.example.org", "http://localhost:8000"),
// bare hosts, or "*.example.org" which matches exactly one extra label. An
// entry without a port matches any port; an entry without a scheme accepts
// http and https.
type Allowlist struct {
	rules []rule
}

type rule struct {
	scheme   string
	host     string
	port     string
	wildcard bool
}

func NewAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, raw := range entries {
		e := strings.ToLower(strings.TrimSpace(raw))
		if e == "" {
			continue
		}
		var r rule
		if i := strings.Index(e, "://"); i >= 0 {
			r.scheme = e[:i]
			if r.scheme != "http" && r.scheme != "https" {
				return nil, fmt.Errorf("allowlist entry %q: scheme must be http or https", raw)
			}
			e = e[i+3:]
		}
		e = strings.TrimRight(e, "/")
		if strings.ContainsAny(e, "/?#@") {
			return nil, fmt.Errorf("allowlist entry %q: only scheme, host and port are allowed", raw)
		}
		if strings.HasPrefix(e, "*.") {
			r.wildcard = true
			e = e[2:]
		}
		host, port, err := net.SplitHostPort(e)
		if err != nil {
			host, port = e, ""
		}
		if host == "" || strings.Contains(host, "*") {
			return nil, fmt.Errorf("allowlist entry %q: bad host", raw)
		}
		r.host, r.port = host, port
		a.rules = append(a.rules, r)
	}
	return a, nil
}

// Check validates raw and returns the sanitized base (scheme://host[:port])
// that requests are sent to. Path, query and userinfo of raw never reach the
// upstream.
func (a *Allowlist) Check(raw string) (string, bool) {
	if a == nil {
		return "", false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.User != nil || u.Opaque != "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if host == "" {
		return "", false
	}
	for _, r := range a.rules {
		if r.matches(scheme, host, port) {
			return origin(scheme, host, port), true
		}
	}
	return "", false
}

func (r rule) matches(scheme, host, port string) bool {
	if r.scheme != "" && r.scheme != scheme {
		return false
	}
	if r.port != "" && r.port != port {
		return false
	}
	if !r.wildcard {
		return host == r.host
	}
	label, ok := strings.CutSuffix(host, "."+r.host)
	return ok && label != "" && !strings.Contains(label, ".")
}

// default ports are dropped so equal origins print the same
func origin(scheme, host, port string) string {
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}

func (a *Allowlist) Len() int { return len(a.rules) }
