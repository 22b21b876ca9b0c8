// Package sanitize provides the defensive HTML transform applied to note
// content before it is persisted or transmitted.
//
// HTML is pure (no I/O) and idempotent: sanitizing already-sanitized content
// yields the same output.
package sanitize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/starford/laguz/internal/models"
)

// maxEntityRepairDepth bounds how many levels of accidental double-escaping
// are unwound (e.g. "&amp;amp;lt;" back to "&lt;").
const maxEntityRepairDepth = 5

// iframeAllowedHosts is the embed domain allow-list. Subdomains are accepted.
var iframeAllowedHosts = []string{
	"youtube.com",
	"youtube-nocookie.com",
	"vimeo.com",
	"docs.google.com",
}

var (
	reScriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	reScriptTag   = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	reComment     = regexp.MustCompile(`(?s)<!--.*?-->`)
	reEventAttr   = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	reJSURLAttr   = regexp.MustCompile(`(?i)\s+(href|src|xlink:href|formaction)\s*=\s*("\s*javascript:[^"]*"|'\s*javascript:[^']*'|javascript:[^\s>]*)`)
	reDangerAttr  = regexp.MustCompile(`(?i)\s+(srcdoc|data-bind)\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	reIframe      = regexp.MustCompile(`(?is)<iframe\b[^>]*>(?:.*?</iframe>)?`)
	reIframeSrc   = regexp.MustCompile(`(?i)\bsrc\s*=\s*("([^"]*)"|'([^']*)'|([^\s>]+))`)
	reDoubleEnt   = regexp.MustCompile(`&amp;((?:amp;)*(?:[a-zA-Z]{2,10}|#[0-9]{1,7}|#x[0-9a-fA-F]{1,6});)`)
	reSelfClosing = regexp.MustCompile(`(?i)<([a-z][a-z0-9-]*)((?:\s[^<>]*?)?)\s*/>`)
)

// voidElements are allowed to stay self-closing.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// HTML sanitizes rich-text note content. Input longer than
// models.MaxContentLen is truncated first.
func HTML(s string) string {
	s = truncate(s, models.MaxContentLen)
	s = repairEntities(s)
	s = reComment.ReplaceAllString(s, "")
	s = reScriptBlock.ReplaceAllString(s, "")
	s = reScriptTag.ReplaceAllString(s, "")
	s = reEventAttr.ReplaceAllString(s, "")
	s = reJSURLAttr.ReplaceAllString(s, "")
	s = reDangerAttr.ReplaceAllString(s, "")
	s = filterIframes(s)
	s = normalizeSelfClosing(s)
	return s
}

// repairEntities unwinds up to maxEntityRepairDepth levels of double
// escaping. A lone "&amp;" is a legitimate escape of "&" and is left alone.
func repairEntities(s string) string {
	for i := 0; i < maxEntityRepairDepth; i++ {
		repaired := reDoubleEnt.ReplaceAllString(s, "&$1")
		if repaired == s {
			break
		}
		s = repaired
	}
	return s
}

func filterIframes(s string) string {
	return reIframe.ReplaceAllStringFunc(s, func(tag string) string {
		m := reIframeSrc.FindStringSubmatch(tag)
		if m == nil {
			return ""
		}
		src := m[2]
		if src == "" {
			src = m[3]
		}
		if src == "" {
			src = m[4]
		}
		if iframeHostAllowed(src) {
			return tag
		}
		return ""
	})
}

func iframeHostAllowed(src string) bool {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range iframeAllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// normalizeSelfClosing rewrites "<x/>" into "<x></x>" for non-void elements,
// which browsers would otherwise treat as an unclosed open tag.
func normalizeSelfClosing(s string) string {
	return reSelfClosing.ReplaceAllStringFunc(s, func(tag string) string {
		m := reSelfClosing.FindStringSubmatch(tag)
		name := strings.ToLower(m[1])
		if voidElements[name] {
			return tag
		}
		return fmt.Sprintf("<%s%s></%s>", m[1], m[2], m[1])
	})
}

// Title clamps a note title to models.MaxTitleLen.
func Title(s string) string {
	return truncate(s, models.MaxTitleLen)
}

// truncate cuts s to at most max bytes without splitting a multi-byte rune,
// so clamped output stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
