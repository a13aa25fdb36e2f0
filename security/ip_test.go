package security

import (
	"net/http"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:44321",
			want:       "203.0.113.5",
		},
		{
			name:       "proxy headers ignored when proxy not trusted",
			remoteAddr: "10.0.0.1:80",
			xff:        "203.0.113.5",
			want:       "10.0.0.1",
		},
		{
			name:       "single trusted proxy",
			remoteAddr: "10.0.0.1:80",
			xff:        "203.0.113.5, 10.0.0.1",
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:              "two trusted proxies",
			remoteAddr:        "10.0.0.1:80",
			xff:               "203.0.113.5, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.5",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			xRealIP:    "203.0.113.7",
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "invalid forwarded value falls back to remote addr",
			remoteAddr: "10.0.0.1:80",
			xff:        "not-an-ip",
			trustProxy: true,
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{
				RemoteAddr: tt.remoteAddr,
				Header:     http.Header{},
			}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount)
			if got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
