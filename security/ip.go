package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client IP address from the request.
// Supports X-Forwarded-For and X-Real-IP headers when behind a proxy.
//
// Only enable trustProxy when behind a trusted reverse proxy; otherwise the
// forwarded headers can be spoofed by the client. trustedProxyCount specifies
// how many proxies to trust from the right of the X-Forwarded-For list.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := extractIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := extractIPFromXRealIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return extractIPFromRemoteAddr(r.RemoteAddr)
}

// extractIPFromXFF parses the X-Forwarded-For header and extracts the client IP.
// Format is "client-ip, proxy1, proxy2"; the rightmost IPs are the trusted
// proxies we control, so the client IP sits at len(ips)-trustedProxyCount-1.
func extractIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	if len(ips) == 0 {
		return ""
	}

	clientIndex := calculateClientIPIndex(len(ips), trustedProxyCount)
	clientIP := strings.TrimSpace(ips[clientIndex])

	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}

// calculateClientIPIndex determines the index of the client IP in the
// X-Forwarded-For list. A trustedProxyCount of 0 defaults to 1 trusted proxy.
// If there are not enough entries the leftmost IP is used.
func calculateClientIPIndex(numIPs, trustedProxyCount int) int {
	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}

	clientIndex := numIPs - proxyCount - 1
	if clientIndex < 0 {
		return 0
	}
	return clientIndex
}

// extractIPFromXRealIP parses the X-Real-IP header (set by some proxies).
func extractIPFromXRealIP(xri string) string {
	if xri == "" {
		return ""
	}
	if net.ParseIP(xri) != nil {
		return xri
	}
	return ""
}

// extractIPFromRemoteAddr extracts the IP from RemoteAddr for direct connections.
func extractIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
