package h1

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"golang.org/x/net/http2"
)

// EncodeHTTP2Settings renders settings as the raw SETTINGS frame payload
// (6 bytes per entry: 2-byte identifier, 4-byte value) and Base64-URL
// encodes it without padding, for the HTTP2-Settings request header
// (spec.md §6 "ALPN client offer" / RFC 7540 §3.2.1).
func EncodeHTTP2Settings(settings []http2.Setting) string {
	payload := make([]byte, 0, 6*len(settings))
	for _, s := range settings {
		var buf [6]byte
		binary.BigEndian.PutUint16(buf[0:2], uint16(s.ID))
		binary.BigEndian.PutUint32(buf[2:6], s.Val)
		payload = append(payload, buf[:]...)
	}
	return base64.RawURLEncoding.EncodeToString(payload)
}

// UpgradeAccepted reports whether a 101 response head accepted the h2c
// upgrade offered in the request (spec.md §4.5 step 7).
func UpgradeAccepted(head *ResponseHead) bool {
	if head.StatusCode != 101 {
		return false
	}
	upgrade, _ := head.Headers.Get("Upgrade")
	return strings.EqualFold(strings.TrimSpace(upgrade), "h2c")
}
