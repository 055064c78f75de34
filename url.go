package httpcore

import (
	"net/url"
	"strconv"

	"github.com/axelhelm/httpcore/internal/errors"
	"github.com/axelhelm/httpcore/internal/model"
	"github.com/axelhelm/httpcore/internal/proxyauth"
)

// parsedTarget is the result of validating and decomposing the request
// URL per spec.md §4.9 step 1.
type parsedTarget struct {
	scheme   string
	host     string
	port     int
	pathQuery string
	userinfo *url.Userinfo
}

func parseTarget(rawURL string) (*parsedTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.NewBadURL("invalid URL: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewBadURL("unsupported scheme: " + u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, errors.NewBadURL("URL must include a host")
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, errors.NewBadURL("invalid port: " + p)
		}
	}

	pathQuery := u.EscapedPath()
	if pathQuery == "" {
		pathQuery = "/"
	}
	if u.RawQuery != "" {
		pathQuery += "?" + u.RawQuery
	}

	return &parsedTarget{
		scheme:    u.Scheme,
		host:      host,
		port:      port,
		pathQuery: pathQuery,
		userinfo:  u.User,
	}, nil
}

func (t *parsedTarget) tls() bool { return t.scheme == "https" }

// originKey computes the pool key spec.md §3/§4.8 describe:
// (host, port, TLS?, proxy settings, client settings identity).
func originKey(t *parsedTarget, proxy *proxyauth.Config, socks *proxyauth.SOCKSConfig) model.OriginKey {
	proxyKey := ""
	if proxy != nil {
		proxyKey = proxy.Scheme + "://" + proxy.Host + ":" + strconv.Itoa(proxy.Port)
	} else if socks != nil {
		proxyKey = "socks5://" + socks.Address
	}
	return model.OriginKey{
		Host:             t.host,
		Port:             t.port,
		TLS:              t.tls(),
		ProxyKey:         proxyKey,
		SettingsIdentity: "default",
	}
}

// requestURI computes the request-URI form spec.md §4.5 describes:
// absolute-form when proxied, path+query otherwise.
func requestURI(t *parsedTarget, proxied bool) string {
	if !proxied {
		return t.pathQuery
	}
	return t.scheme + "://" + t.host + portSuffix(t) + t.pathQuery
}

func portSuffix(t *parsedTarget) string {
	if (t.scheme == "http" && t.port == 80) || (t.scheme == "https" && t.port == 443) {
		return ""
	}
	return ":" + strconv.Itoa(t.port)
}
