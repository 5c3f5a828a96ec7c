package tls

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

const (
	timeoutDial      = 5 * time.Second
	timeoutHandshake = 5 * time.Second
	keepAlive        = 30 * time.Second
)

// DialContextFunc matches http.Transport.DialContext
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewConfig return the client tls config for a resolver, a nil base gives the
// defaults. base is cloned and never modified.
func NewConfig(base *tls.Config) *tls.Config {
	var config *tls.Config
	if base == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		config = base.Clone()
	}

	if config.MinVersion < tls.VersionTLS12 {
		config.MinVersion = tls.VersionTLS12
	}

	if config.ClientSessionCache == nil {
		config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}

	return config
}

// NewDialer return a DialContextFunc, the connection is tunneled through the
// socks5 proxy when proxyURL is a socks5 url, a direct one otherwise.
// HTTP proxies are not dialed here, they are set on the http.Transport.
func NewDialer(proxyURL *url.URL) (DialContextFunc, error) {
	dialer := &net.Dialer{Timeout: timeoutDial, KeepAlive: keepAlive}

	if proxyURL == nil || !IsSOCKS(proxyURL) {
		return dialer.DialContext, nil
	}

	d, err := proxy.FromURL(proxyURL, dialer)
	if err != nil {
		return nil, errors.Wrapf(err, "proxy %s", proxyURL.Redacted())
	}

	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

// Probe dial the resolver of u and complete a tls handshake
// return elapse, error
func Probe(ctx context.Context, u *url.URL, dial DialContextFunc, config *tls.Config) (time.Duration, error) {

	ept := time.Now() // entry point time

	// dial
	start := time.Now()
	rawConn, err := dial(ctx, "tcp", HostPort(u))
	elapse := time.Since(start)
	if err != nil {
		return math.MaxInt64, errors.Wrapf(err, "dial, elapse %s", elapse)
	}

	config = config.Clone()
	if len(config.ServerName) == 0 {
		config.ServerName = u.Hostname()
	}

	// set deadline
	conn := tls.Client(rawConn, config)
	defer func() { _ = conn.Close() }()
	if err = conn.SetDeadline(time.Now().Add(timeoutHandshake)); err != nil {
		return math.MaxInt64, errors.Wrap(err, "set deadline")
	}

	// handshake
	start = time.Now()
	err = conn.HandshakeContext(ctx)
	elapse = time.Since(start)
	if err != nil {
		return math.MaxInt64, errors.Wrapf(err, "handshake, elapse %s", elapse)
	}

	return time.Since(ept), nil
}
