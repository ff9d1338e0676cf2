package services

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tbourn/go-ask-gateway/internal/provider"
)

var safetyPattern = regexp.MustCompile(`(?i)safety_violations=\[([^\]]+)\]`)

// ClassifyError extracts policy-violation categories from err. A structured
// provider error wins; otherwise the message text is searched for an
// embedded "safety_violations=[a, b]" list.
func ClassifyError(err error) []string {
	if err == nil {
		return nil
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && len(apiErr.SafetyViolations) > 0 {
		return append([]string(nil), apiErr.SafetyViolations...)
	}

	m := safetyPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return nil
	}
	var out []string
	for _, part := range strings.Split(m[1], ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PolicyMessage is the only failure text a requester ever sees. Provider
// internals stay in the ledger snapshot.
func PolicyMessage(violations []string) string {
	if len(violations) == 0 {
		return "I can't assist with that request because it appears to violate content policy. Please try a different request or rephrase."
	}
	return "I can't assist with that request because it appears to violate content policy (" +
		strings.Join(violations, ", ") + "). Please try a different request or rephrase."
}
