package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (app-only Twitter tokens and Gemini proxies).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// OAuth1 Authorization header params, e.g. oauth_signature="...".
	oauthParamRe = regexp.MustCompile(`(?i)\boauth_(consumer_key|token|signature|nonce)="?[^\s",]+"?`)

	// Common key=value / key: value formats that leak in error strings and config dumps.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|consumer[_-]?(key|secret)|access[_-]?token([_-]?secret)?|password)\b"?\s*[:=]\s*"?[^\s"',}]+"?`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = oauthParamRe.ReplaceAllString(out, "oauth_$1=<redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}

// Mask keeps at most the last four characters of a secret for diagnostics.
func Mask(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
