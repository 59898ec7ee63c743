package server

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "http://localhost:3000", want: "http://localhost:3000", ok: true},
		{in: "HTTPS://Example.COM/path?q=1", want: "https://example.com", ok: true},
		{in: "localhost:3000", ok: false},
		{in: "not-a-url", ok: false},
		{in: "http://", ok: false},
		{in: "://missing-scheme", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := normalizeOrigin(tt.in)
			if ok != tt.ok {
				t.Fatalf("normalizeOrigin(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("normalizeOrigin(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOriginPolicy(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a list with one valid, one invalid and one blank entry
	policy := newOriginPolicy([]string{" http://LOCALHOST:3000 ", "garbage", ""}, log)

	// Then only the normalised valid origin is allowed
	req.True(policy.allows("http://localhost:3000"))
	req.False(policy.allows("http://localhost:3001"))
	req.False(policy.allows(""))
	req.False(policy.allows("garbage"))

	r := httptest.NewRequest("GET", "/ws", nil)
	req.False(policy.checkOrigin(r))
	r.Header.Set("Origin", "http://localhost:3000")
	req.True(policy.checkOrigin(r))

	// And a wildcard admits anything with an Origin header
	wildcard := newOriginPolicy([]string{"*"}, log)
	req.True(wildcard.allows("https://anything.example"))
	req.False(wildcard.allows(""))
}
