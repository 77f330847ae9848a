package match

import (
	"net/url"
	"strings"

	"scanner/internal/model"
)

// socialDomains are well-known platform domains that must never be
// matched by bare domain alone — a
// contributor's instagram.com entry would otherwise suppress matches
// from instagram.com/impersonator.
var socialDomains = map[string]bool{
	"instagram.com":  true,
	"twitter.com":    true,
	"x.com":          true,
	"tiktok.com":     true,
	"reddit.com":     true,
	"deviantart.com": true,
	"civitai.com":    true,
	"facebook.com":   true,
	"linkedin.com":   true,
	"youtube.com":    true,
}

// IsKnownAccount reports whether pageURL matches any of the
// contributor's allowlist entries. Social-domain entries are only
// matched by (platform, handle); non-social (custom/personal) domain
// entries also match by bare domain.
func IsKnownAccount(pageURL string, accounts []model.KnownAccount) (bool, string) {
	host := hostOf(pageURL)
	path := pathOf(pageURL)

	for _, acc := range accounts {
		if acc.Platform != "" && acc.Handle != "" {
			if platformMatches(host, acc.Platform) && pathContainsHandle(path, acc.Handle) {
				return true, acc.ID
			}
			continue
		}
		if acc.Domain != "" {
			if socialDomains[strings.ToLower(acc.Domain)] {
				// social domains never match by bare domain alone.
				continue
			}
			if host == strings.ToLower(acc.Domain) {
				return true, acc.ID
			}
		}
	}
	return false, ""
}

func platformMatches(host, platform string) bool {
	return strings.Contains(host, strings.ToLower(platform))
}

func pathContainsHandle(path, handle string) bool {
	return strings.Contains(strings.ToLower(path), strings.ToLower(handle))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
