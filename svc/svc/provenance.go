package svc

import (
	"strings"

	"pasteward/pkg/domain"
)

var loopbackOrigins = map[string]bool{
	"127.0.0.1": true,
	"::1":       true,
	"[::1]":     true,
}

// Provenance derives the rate-limit origin and the stored sender description from
// connection metadata. Forwarded values replace the origin only when trusted.
func Provenance(conn domain.Conn, trustForwarded bool) (origin, sender string) {
	origin = conn.RemoteIP
	var b strings.Builder
	if origin != "" && !loopbackOrigins[origin] {
		b.WriteString("Remote IP: ")
		b.WriteString(origin)
	}
	if len(conn.ForwardedFor) > 0 {
		joined := strings.Join(conn.ForwardedFor, " / ")
		b.WriteString(", X-Forwarded-For: ")
		b.WriteString(joined)
		if trustForwarded {
			origin = joined
		}
	}
	if len(conn.RemoteAddr) > 0 {
		b.WriteString(", REMOTE_ADDR: ")
		b.WriteString(strings.Join(conn.RemoteAddr, " / "))
	}
	sender = strings.TrimPrefix(b.String(), ", ")
	if sender == "" {
		sender = "Unknown"
	}
	return origin, sender
}
