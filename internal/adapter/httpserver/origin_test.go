package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	appURL := "https://app.tablepulse.example/dashboard"

	tests := []struct {
		name          string
		origin        string
		isDevelopment bool
		want          bool
	}{
		{"no origin", "", false, true},
		{"app origin", "https://app.tablepulse.example", false, true},

		{"other host", "https://evil.example", false, false},
		{"other port", "https://app.tablepulse.example:9090", false, false},
		{"downgraded scheme", "http://app.tablepulse.example", false, false},
		{"subdomain", "https://staff.app.tablepulse.example", false, false},

		{"localhost dev", "http://localhost:5173", true, true},
		{"loopback dev", "http://127.0.0.1:3000", true, true},
		{"localhost prod", "http://localhost:5173", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newCheckOrigin(appURL, tt.isDevelopment)
			r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, domain.StreamPath, nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestExtractOrigin(t *testing.T) {
	assert.Equal(t, "https://example.com:8443", extractOrigin("https://example.com:8443/path?q=1"))
	assert.Equal(t, "http://localhost:8080", extractOrigin("http://localhost:8080"))
	assert.Empty(t, extractOrigin(""))
	assert.Empty(t, extractOrigin("not a url"))
}
