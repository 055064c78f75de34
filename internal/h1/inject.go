package h1

import (
	"strconv"

	"github.com/axelhelm/httpcore/internal/headers"
	"github.com/axelhelm/httpcore/internal/model"
)

// InjectedHeaders configures the default headers the core adds unless
// the caller already set them (spec.md §4.5 "Headers injected by the
// core").
type InjectedHeaders struct {
	Host      string
	UserAgent string
	Proxied   bool
}

// Apply adds Host, User-Agent, Accept-Encoding and the appropriate
// Connection header to hdrs, each only if not already present.
func Apply(hdrs *headers.Map, version model.Version, cfg InjectedHeaders) {
	if !hdrs.Has("Host") {
		hdrs.Set("Host", cfg.Host)
	}
	if !hdrs.Has("User-Agent") && cfg.UserAgent != "" {
		hdrs.Set("User-Agent", cfg.UserAgent)
	}
	if !hdrs.Has("Accept-Encoding") {
		hdrs.Set("Accept-Encoding", "gzip, deflate")
	}
	if version == model.HTTP11 {
		if cfg.Proxied {
			if !hdrs.Has("Proxy-Connection") {
				hdrs.Set("Proxy-Connection", "keep-alive")
			}
		} else if !hdrs.Has("Connection") {
			hdrs.Set("Connection", "keep-alive")
		}
	}
}

// ApplyH2CUpgrade adds the Connection/Upgrade/HTTP2-Settings headers
// that offer an h2c upgrade on this request (spec.md §4.5 step 3).
func ApplyH2CUpgrade(hdrs *headers.Map, settingsB64 string) {
	hdrs.Set("Connection", "Upgrade, HTTP2-Settings")
	hdrs.Set("Upgrade", "h2c")
	hdrs.Set("HTTP2-Settings", settingsB64)
}

// ApplyContentLength sets Content-Length for an identity-framed request
// body of n bytes.
func ApplyContentLength(hdrs *headers.Map, n int64) {
	hdrs.Set("Content-Length", strconv.FormatInt(n, 10))
}

// ApplyChunked marks the request body as chunked-transfer-encoded.
func ApplyChunked(hdrs *headers.Map) {
	hdrs.Set("Transfer-Encoding", "chunked")
}

// ResolveKeepAlive folds the response's HTTP version, Connection header
// and Keep-Alive header into a keep-alive decision plus the effective
// timeout/max values (spec.md §4.5 "Keep-alive accounting", §4.7
// "Per-connection counters"). reqVersion is not consulted.
func ResolveKeepAlive(reqVersion model.Version, respHead *ResponseHead, configuredTimeout int, configuredMax int) (keepAlive bool, timeoutSeconds int, max int) {
	connHeader, _ := respHead.Headers.Get("Connection")
	keepAlive = KeepAliveDirected(respHead.Version, connHeader)

	timeoutSeconds = configuredTimeout
	max = configuredMax
	if kaHeader, ok := respHead.Headers.Get("Keep-Alive"); ok {
		ka := ParseKeepAlive(kaHeader)
		if ka.HasTimeout && (configuredTimeout <= 0 || int(ka.Timeout.Seconds()) < configuredTimeout) {
			timeoutSeconds = int(ka.Timeout.Seconds())
		}
		if ka.HasMax {
			max = ka.Max
		}
	}
	return keepAlive, timeoutSeconds, max
}
