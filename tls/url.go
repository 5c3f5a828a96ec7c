package tls

import (
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const (
	SchemeHTTPS = "https"
	SchemeH3    = "h3"

	defaultPort = "443"
)

// ParseRemote parse the resolver url, https:// or h3:// only.
// For h3:// the returned url has the https scheme and http3 is true.
func ParseRemote(rawURL string) (u *url.URL, http3 bool, err error) {
	if u, err = url.Parse(strings.TrimSpace(rawURL)); err != nil {
		return nil, false, errors.Wrapf(err, "remote url %q", rawURL)
	}

	switch strings.ToLower(u.Scheme) {
	case SchemeHTTPS:
	case SchemeH3:
		http3 = true
	default:
		return nil, false, errors.Errorf("remote url %q: scheme must be https or h3", rawURL)
	}

	if len(u.Hostname()) == 0 {
		return nil, false, errors.Errorf("remote url %q: missing host", rawURL)
	}

	u.Scheme = SchemeHTTPS
	return u, http3, nil
}

// ParseProxy parse the proxy url, nil without error for an empty string.
func ParseProxy(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if len(rawURL) == 0 {
		return nil, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "proxy url")
	}

	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h", "http", "https":
	default:
		return nil, errors.Errorf("proxy url %s: scheme must be socks5, socks5h, http or https", u.Redacted())
	}

	if len(u.Host) == 0 {
		return nil, errors.Errorf("proxy url %s: missing host", u.Redacted())
	}

	return u, nil
}

func IsSOCKS(u *url.URL) bool {
	if u == nil {
		return false
	}
	s := strings.ToLower(u.Scheme)
	return s == "socks5" || s == "socks5h"
}

// HostPort return host:port of u, port 443 when absent
func HostPort(u *url.URL) string {
	if port := u.Port(); len(port) > 0 {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPort)
}
