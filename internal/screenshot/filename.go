package screenshot

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	maxTitleLen    = 30
	maxFilenameLen = 100
)

// illegalChars matches characters forbidden in filenames across common
// filesystems, plus ASCII control ranges.
var illegalChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)

var runsOfUnderscore = regexp.MustCompile(`_+`)

// sanitize strips illegal characters, collapses runs of underscores, and
// trims leading/trailing underscores, capped at maxLen runes.
func sanitize(s string, maxLen int) string {
	s = illegalChars.ReplaceAllString(s, "_")
	s = runsOfUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return strings.Trim(string(runes), "_")
}

// domainNoWWWNoTLD extracts the registrable-looking label from a URL's host:
// "https://www.example.com/path" -> "example".
func domainNoWWWNoTLD(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	host := ""
	if err == nil {
		host = parsed.Hostname()
	}
	if host == "" {
		host = rawURL
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	labels := strings.Split(host, ".")
	if len(labels) == 0 {
		return "page"
	}
	if len(labels) == 1 {
		return labels[0]
	}
	return labels[0]
}

// Filename builds the deterministic, collision-on-overwrite screenshot
// filename: {domain-no-www-no-tld}_{sanitized-title-max-30}_{yyyymmdd_hhmm}.png
func Filename(pageURL, title string, now time.Time) string {
	domain := sanitize(domainNoWWWNoTLD(pageURL), maxTitleLen)
	if domain == "" {
		domain = "page"
	}
	shortTitle := sanitize(title, maxTitleLen)

	stamp := now.UTC().Format("20060102_1504")

	name := fmt.Sprintf("%s_%s_%s.png", domain, shortTitle, stamp)
	if shortTitle == "" {
		name = fmt.Sprintf("%s_%s.png", domain, stamp)
	}

	runes := []rune(name)
	if len(runes) > maxFilenameLen {
		// Preserve the extension when trimming to the cap.
		const ext = ".png"
		budget := maxFilenameLen - len(ext)
		name = string(runes[:budget]) + ext
	}
	return name
}
