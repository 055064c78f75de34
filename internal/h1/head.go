// Package h1 implements the HTTP/1.x request/response framing pipeline
// of spec.md §4.5: request-line/header serialization, status-line and
// header-block parsing, Keep-Alive accounting, and the h2c upgrade
// handshake that hands a connection off to the HTTP/2 driver.
package h1

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"github.com/axelhelm/httpcore/internal/errors"
	"github.com/axelhelm/httpcore/internal/headers"
	"github.com/axelhelm/httpcore/internal/model"
)

// OutgoingRequest is the wire-level shape of one HTTP/1.x request: a
// request-URI already resolved to either absolute form (proxied) or
// path+query form (direct), per spec.md §4.5.
type OutgoingRequest struct {
	Method     model.Method
	RequestURI string
	Version    model.Version
	Headers    *headers.Map
}

// WriteHead serializes the request line and header block to w, in
// insertion order, terminated by the blank line that precedes the body
// (spec.md §4.5 "Request serialization").
func WriteHead(w *bufio.Writer, req *OutgoingRequest) error {
	versionToken := "HTTP/1.1"
	if req.Version == model.HTTP10 {
		versionToken = "HTTP/1.0"
	}
	if _, err := w.WriteString(req.Method.String() + " " + req.RequestURI + " " + versionToken + "\r\n"); err != nil {
		return errors.NewIOErrorCompat(err)
	}
	if _, err := req.Headers.WriteTo(w); err != nil {
		return errors.NewIOErrorCompat(err)
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return errors.NewIOErrorCompat(err)
	}
	return nil
}

// ResponseHead is the parsed status line and header block of a
// response, before any body reader has been attached.
type ResponseHead struct {
	Version    model.Version
	StatusCode int
	Reason     string
	Headers    *headers.Map
}

// ReadHead parses the status line and RFC 5322 header block terminated
// by a blank line (spec.md §4.5 "Response parsing").
func ReadHead(r *bufio.Reader) (*ResponseHead, error) {
	statusLine, err := readLine(r)
	if err != nil {
		return nil, errors.NewIOErrorCompat(err)
	}
	version, code, reason, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	hdrs := &headers.Map{}
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, errors.NewIOErrorCompat(err)
		}
		if line == "" {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, errors.NewProtocolH1("parse", "malformed header line", nil)
		}
		hdrs.Insert(name, value)
	}

	return &ResponseHead{Version: version, StatusCode: code, Reason: reason, Headers: hdrs}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func parseStatusLine(line string) (model.Version, int, string, error) {
	firstSpace := strings.IndexByte(line, ' ')
	if firstSpace < 0 {
		return 0, 0, "", errors.NewProtocolH1("parse", "malformed status line: "+line, nil)
	}
	versionToken := line[:firstSpace]
	version, ok := model.ParseVersion(versionToken)
	if !ok {
		return 0, 0, "", errors.NewProtocolH1("parse", "unrecognized HTTP version: "+versionToken, nil)
	}
	rest := strings.TrimLeft(line[firstSpace+1:], " ")
	secondSpace := strings.IndexByte(rest, ' ')
	var codeToken, reason string
	if secondSpace < 0 {
		codeToken = rest
	} else {
		codeToken = rest[:secondSpace]
		reason = rest[secondSpace+1:]
	}
	code, err := strconv.Atoi(codeToken)
	if err != nil {
		return 0, 0, "", errors.NewProtocolH1("parse", "malformed status code: "+codeToken, err)
	}
	return version, code, reason, nil
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", "", false
	}
	name = line[:colon]
	value = strings.TrimSpace(line[colon+1:])
	return name, value, true
}

// KeepAlive holds the parsed fields of a response's Keep-Alive header
// (spec.md §4.5 "Keep-alive accounting").
type KeepAlive struct {
	Timeout    time.Duration
	HasTimeout bool
	Max        int
	HasMax     bool
}

// ParseKeepAlive parses a "timeout=<sec>, max=<n>" value. Unknown
// parameters are ignored.
func ParseKeepAlive(value string) KeepAlive {
	var ka KeepAlive
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:eq]))
		val := strings.TrimSpace(part[eq+1:])
		switch key {
		case "timeout":
			if secs, err := strconv.Atoi(val); err == nil {
				ka.Timeout = time.Duration(secs) * time.Second
				ka.HasTimeout = true
			}
		case "max":
			if n, err := strconv.Atoi(val); err == nil {
				ka.Max = n
				ka.HasMax = true
			}
		}
	}
	return ka
}

// KeepAliveDirected reports whether headers request a persistent
// connection, per HTTP/1.0 (opt-in via "Connection: keep-alive") versus
// HTTP/1.1 (persistent by default, opt-out via "Connection: close").
func KeepAliveDirected(version model.Version, connectionHeader string) bool {
	tokens := splitCommaList(connectionHeader)
	for _, t := range tokens {
		if strings.EqualFold(t, "close") {
			return false
		}
	}
	if version == model.HTTP10 {
		for _, t := range tokens {
			if strings.EqualFold(t, "keep-alive") {
				return true
			}
		}
		return false
	}
	return true
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
