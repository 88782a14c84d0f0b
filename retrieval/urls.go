package retrieval

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	domainLike = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}`)
	urlInText  = regexp.MustCompile(`(?i)https?://[^\s)\]>"'\n]+`)

	echoedURL   = regexp.MustCompile(`(?i)\s*(?:Source\s*\d*:?\s*)?https?://[^\s)\]>"'\n]+`)
	sourceLabel = regexp.MustCompile(`(?im)\s*Source\s*\d*:?\s*$`)
)

// NormalizeURL returns raw as an absolute http(s) URL, or "" when it cannot
// be one. Trailing punctuation is dropped and bare domains get https://.
// Normalizing an already normalized URL returns it unchanged.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, ".,;:!?)")
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if !domainLike.MatchString(s) {
			return ""
		}
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.String()
}

// ExtractURLs finds http(s) URLs in text and returns them normalized,
// de-duplicated, in order of appearance.
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range urlInText.FindAllString(text, -1) {
		if n := NormalizeURL(m); n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// StripURLs removes URLs the model echoed into its answer, together with
// any "Source:" label left dangling at the end of a line.
func StripURLs(answer string) string {
	answer = echoedURL.ReplaceAllString(answer, "")
	answer = sourceLabel.ReplaceAllString(answer, "")
	return strings.TrimSpace(answer)
}
