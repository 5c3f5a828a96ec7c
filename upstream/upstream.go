package upstream

import (
	"context"
	stdtls "crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go/http3"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/tls"
)

const (
	defaultTimeout  = 5 * time.Second
	connPoolSize    = 16
	idleConnTimeout = 90 * time.Second
)

// ErrProbeSkipped is returned by Probe when the connection can not be probed
// with a plain tls handshake (http3, http proxies).
var ErrProbeSkipped = errors.New("probe skipped")

type Config struct {
	URL       string         // https:// or h3:// resolver url
	Proxy     string         // socks5, socks5h, http or https proxy url, empty means direct
	Timeout   time.Duration  // bound of one exchange, defaultTimeout when <= 0
	TLSConfig *stdtls.Config // nil uses the system roots
}

// Forwarder posts raw dns queries to one DoH resolver.
type Forwarder struct {
	u       *url.URL
	proxy   *url.URL
	http3   bool
	timeout time.Duration

	tlsConfig *stdtls.Config
	dial      tls.DialContextFunc
	client    *http.Client
	closeFn   func()
}

func New(config Config) (*Forwarder, error) {
	u, h3, err := tls.ParseRemote(config.URL)
	if err != nil {
		return nil, err
	}

	var proxyURL *url.URL
	if proxyURL, err = tls.ParseProxy(config.Proxy); err != nil {
		return nil, err
	}

	if h3 && proxyURL != nil {
		return nil, errors.Errorf("remote %s: http3 can not go through proxy %s", u.Host, proxyURL.Redacted())
	}

	f := &Forwarder{
		u:         u,
		proxy:     proxyURL,
		http3:     h3,
		timeout:   config.Timeout,
		tlsConfig: tls.NewConfig(config.TLSConfig),
	}

	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}

	var transport http.RoundTripper
	if h3 {
		if f.tlsConfig.MinVersion < stdtls.VersionTLS13 {
			f.tlsConfig.MinVersion = stdtls.VersionTLS13
		}
		tr := &http3.Transport{TLSClientConfig: f.tlsConfig}
		f.closeFn = func() { _ = tr.Close() }
		transport = tr
	} else {
		if f.dial, err = tls.NewDialer(proxyURL); err != nil {
			return nil, err
		}
		tr := &http.Transport{
			DialContext:         f.dial,
			TLSClientConfig:     f.tlsConfig,
			TLSHandshakeTimeout: f.timeout,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        connPoolSize,
			MaxIdleConnsPerHost: connPoolSize,
			IdleConnTimeout:     idleConnTimeout,
		}
		if proxyURL != nil && !tls.IsSOCKS(proxyURL) {
			tr.Proxy = http.ProxyURL(proxyURL)
		}
		f.closeFn = tr.CloseIdleConnections
		transport = tr
	}

	f.client = &http.Client{
		Transport: transport,
		Timeout:   f.timeout,
	}

	log.Sugar.Infof("upstream resolver %s, http3=%t, proxy=[%s], timeout %s", f.u.String(), f.http3, redacted(f.proxy), f.timeout)

	return f, nil
}

func (f *Forwarder) URL() string {
	return f.u.String()
}

// Probe complete a tls handshake with the resolver through the configured
// dialer, return the elapse.
func (f *Forwarder) Probe(ctx context.Context) (time.Duration, error) {
	if f.dial == nil || (f.proxy != nil && !tls.IsSOCKS(f.proxy)) {
		return 0, ErrProbeSkipped
	}
	return tls.Probe(ctx, f.u, f.dial, f.tlsConfig)
}

// Close releases idle connections.
func (f *Forwarder) Close() {
	if f.closeFn != nil {
		f.closeFn()
	}
}

func redacted(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}
