// Package bypass recognises bot-protection interstitials. A challenge page is
// a successful HTTP exchange whose text is not the article, so the extractor
// must not feed it to the rewrite stage.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the part of a fetched page the detectors look at.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Detector reports whether r is a challenge and, if so, which vendor served it.
type Detector func(r Response) (detected bool, source string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze runs r through detectors and returns the first matching source, or
// "" when the page looks genuine.
func Analyze(r Response, detectors []Detector) string {
	for _, d := range detectors {
		if ok, src := d(r); ok {
			return src
		}
	}
	return ""
}

func header(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	// Headers built by hand in tests or by renderers may not be canonical.
	for k, vals := range h {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func bodyHasAny(body []byte, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(body, []byte(n)) {
			return true
		}
	}
	return false
}

func blocked(status int) bool {
	return status == http.StatusForbidden || status == http.StatusServiceUnavailable
}

func detectCloudflare(r Response) (bool, string) {
	// Managed challenges can come back 200 once JS is involved.
	if bodyHasAny(r.Body, "/cdn-cgi/challenge-platform/") && bodyHasAny(r.Body, "<title>Just a moment...</title>") {
		return true, "Cloudflare"
	}
	if !blocked(r.StatusCode) {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(r.Headers, "Server")), "cloudflare") {
		return true, "Cloudflare"
	}
	if bodyHasAny(r.Body, "cf-browser-verification", "cloudflare-nginx", "cf-turnstile", "Attention Required! | Cloudflare") {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(r Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(r.Headers, "Server")), "akamai") {
		return true, "Akamai"
	}
	if bodyHasAny(r.Body, "Reference #") && bodyHasAny(r.Body, "Access Denied") {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(r Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(r.Headers, "Server")), "datadome") ||
		header(r.Headers, "X-DataDome") != "" ||
		header(r.Headers, "X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if bodyHasAny(r.Body, "geo.captcha-delivery.com", "datadome") {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(r Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if header(r.Headers, "X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	if bodyHasAny(r.Body, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return true, "PerimeterX"
	}
	return false, ""
}
