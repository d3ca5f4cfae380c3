package signal

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// originChecker decides which browser origins may open a signaling socket.
// Requests without an Origin header (non-browser clients) are accepted.
// Otherwise the origin must name the host[:port] the request was sent to or
// be listed in allowed. The scheme is not compared so a TLS-terminating proxy
// in front of the server does not break same-host checks.
type originChecker struct {
	allowed map[string]struct{}
	any     bool
}

func newOriginChecker(allowed []string) *originChecker {
	oc := &originChecker{allowed: make(map[string]struct{}, len(allowed))}
	for _, a := range allowed {
		if a == "*" {
			oc.any = true
			continue
		}
		if origin, _, ok := normalizeOrigin(a); ok {
			oc.allowed[origin] = struct{}{}
		} else {
			log.Warn().Str("module", "signal").Str("origin", a).Msg("ignoring malformed allowed origin")
		}
	}
	return oc
}

func (oc *originChecker) check(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return true
	}
	origin, host, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	if oc.any {
		return true
	}
	if _, ok := oc.allowed[origin]; ok {
		return true
	}
	scheme, _, _ := strings.Cut(origin, "://")
	return host == normalizeHost(r.Host, scheme)
}

// normalizeOrigin returns scheme://host[:port] and host[:port] for an
// http(s) origin, lowercased and with the default port stripped.
func normalizeOrigin(raw string) (origin, host string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host = normalizeHost(u.Host, scheme)
	if host == "" {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

func normalizeHost(hostport, scheme string) string {
	hostport = strings.ToLower(strings.TrimSpace(hostport))
	hostname, port, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port.
		hostname, port = strings.Trim(hostport, "[]"), ""
	}
	if hostname == "" {
		return ""
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port == "" {
		if strings.Contains(hostname, ":") {
			return "[" + hostname + "]"
		}
		return hostname
	}
	return net.JoinHostPort(hostname, port)
}
