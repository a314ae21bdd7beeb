package scoring

import (
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// OriginDomain reduces a URL or host to its registrable domain, e.g.
// "https://e00-marca.uecdn.es/rss" -> "uecdn.es". ok is false for labels
// that are not hostnames, such as platform names.
func OriginDomain(raw string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") && strings.Contains(raw, ".") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := u.Hostname()
	if !strings.Contains(host, ".") {
		return "", false
	}

	domain, err := publicsuffix.Domain(host)
	if err != nil {
		return "", false
	}
	return domain, true
}
