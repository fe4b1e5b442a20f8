package observability

import (
	"regexp"
	"strings"
)

const credentialRedacted = "[CREDENTIAL_REDACTED]"

// credentialPatterns match provider API keys and other secrets that can leak
// into span attributes through vendor error messages or request URLs.
var credentialPatterns = []*regexp.Regexp{
	// OpenAI and Anthropic keys: sk-..., sk-proj-..., sk-ant-...
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`),
	// Underscore style keys: sk_, pk_, rk_, ghp_, pat_
	regexp.MustCompile(`(?i)\b(?:sk|pk|rk|gh[pousr]|pat)_[a-z0-9_-]{8,}\b`),
	// Google API keys
	regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{30,}`),
	// AWS access key ids
	regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	// JWT-like tokens, including Google OAuth access tokens minted as JWTs
	regexp.MustCompile(`(?i)eyj[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}`),
	// Bearer values in header-like strings
	regexp.MustCompile(`(?i)\bBearer\s+[a-z0-9_.\-/+=]{8,}`),
	// key=... query parameters and password=/secret=/token= pairs
	regexp.MustCompile(`(?i)\b(?:key|password|secret|token)\s*=\s*[^\s&"']{4,}`),
}

// ContainsCredential reports whether s matches any credential pattern.
func ContainsCredential(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, p := range credentialPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ScrubCredentials replaces every credential match in s. Clean input is
// returned as is.
func ScrubCredentials(s string) string {
	if len(s) < 8 {
		return s
	}
	result := s
	changed := false
	for _, p := range credentialPatterns {
		if p.MatchString(result) {
			result = p.ReplaceAllString(result, credentialRedacted)
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.TrimSpace(result)
}
