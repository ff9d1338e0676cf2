package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// RedactOptions configures what the access logger scrubs.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]". Matching is case-insensitive and merged with Authorization,
// Cookie and Set-Cookie.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	// Discord bot tokens: base64 user id, timestamp and HMAC separated by dots.
	discordTokenRE = regexp.MustCompile(`[A-Za-z\d_-]{23,28}\.[A-Za-z\d_-]{6,7}\.[A-Za-z\d_-]{27,40}`)
	providerKeyRE  = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`)
	secretParamRE  = regexp.MustCompile(`(?i)\b((?:access_)?token|api_?key|key|secret)=[^&\s]+`)
	emailRE        = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

type redactor struct {
	mask map[string]struct{}
}

func newRedactor(opts RedactOptions) *redactor {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return &redactor{mask: mask}
}

// text scrubs credentials and email addresses from s. Platform snowflake ids
// are kept: they are what operators filter by.
func (r *redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = secretParamRE.ReplaceAllString(s, "$1=[REDACTED]")
	s = discordTokenRE.ReplaceAllString(s, "[REDACTED:token]")
	s = providerKeyRE.ReplaceAllString(s, "[REDACTED:key]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// headers flattens h with masked and scrubbed values.
func (r *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.text(strings.Join(vv, ", "))
	}
	return out
}
