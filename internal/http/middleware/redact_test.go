package middleware

import (
	"net/http"
	"strings"
	"testing"
)

func TestRedactor_Text(t *testing.T) {
	rd := newRedactor(RedactOptions{})
	tests := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"ids kept", "user_id=123456789012345678&page=2", "user_id=123456789012345678&page=2"},
		{"token param", "token=abc&page=1", "token=[REDACTED]&page=1"},
		{"api key param", "API_KEY=abc", "API_KEY=[REDACTED]"},
		{"provider key", "k sk-abcdefghijklmnop1234", "k [REDACTED:key]"},
		{"discord token", "MTIzNDU2Nzg5MDEyMzQ1Njc4OQ.GAbCdE.abcdefghijklmnopqrstuvwxyz0123", "[REDACTED:token]"},
		{"email", "who=a.b+tag@example.com", "who=[REDACTED:email]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rd.text(tt.in); got != tt.want {
				t.Fatalf("text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactor_Headers(t *testing.T) {
	rd := newRedactor(RedactOptions{MaskHeaders: []string{" X-Api-Key ", ""}})
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "sid=1")
	h.Set("X-Api-Key", "shhh")
	h.Set("X-Custom", "contact a@b.com")
	h.Add("Accept", "a")
	h.Add("Accept", "b")

	got := rd.headers(h)
	for _, k := range []string{"Authorization", "Cookie", "X-Api-Key"} {
		if got[k] != "[REDACTED]" {
			t.Fatalf("%s not masked: %q", k, got[k])
		}
	}
	if !strings.Contains(got["X-Custom"], "[REDACTED:email]") {
		t.Fatalf("X-Custom not scrubbed: %q", got["X-Custom"])
	}
	if got["Accept"] != "a, b" {
		t.Fatalf("Accept = %q", got["Accept"])
	}
}
