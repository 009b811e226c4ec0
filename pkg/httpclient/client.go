// Package httpclient provides the outbound HTTP client used to fetch player
// pages and their scripts, with proxy routing and an optional Chrome TLS
// fingerprint.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/urlutil"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Client picks a transport per target URL: a configured route, the global
// proxy, the Chrome-fingerprint transport or the pooled default.
type Client struct {
	defaultClient *http.Client
	utlsClient    *http.Client
	proxyClients  map[string]*http.Client
	routes        []config.TransportRoute
	globalProxies []string
	utlsDomains   []string
	mu            sync.RWMutex
	log           *logging.Logger
}

var dialer = &net.Dialer{
	Timeout:   15 * time.Second,
	KeepAlive: 60 * time.Second,
}

// New creates a Client from cfg.
func New(cfg *config.Config, log *logging.Logger) *Client {
	c := &Client{
		proxyClients:  make(map[string]*http.Client),
		routes:        cfg.TransportRoutes,
		globalProxies: cfg.GlobalProxies,
		utlsDomains:   cfg.UTLSDomains,
		log:           log.WithComponent("httpclient"),
	}

	c.defaultClient = &http.Client{Transport: newTransport()}
	c.utlsClient = &http.Client{Transport: newUTLSRoundTripper()}

	return c
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// Do executes req on the client selected for its URL. Deadlines come from
// the request context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.clientFor(req.URL.String()).Do(req)
}

func (c *Client) clientFor(targetURL string) *http.Client {
	for _, route := range c.routes {
		if !strings.Contains(targetURL, route.URLPattern) {
			continue
		}
		c.log.Debug("matched transport route", "url", targetURL, "pattern", route.URLPattern, "direct", route.Direct)

		if route.Proxy != "" && !route.Direct {
			return c.proxyClient(route.Proxy, route.DisableSSL)
		}
		if route.DisableSSL {
			return c.proxyClient("", true)
		}
		return c.defaultClient
	}

	if urlutil.MatchesDomain(targetURL, c.utlsDomains) {
		c.log.Debug("using chrome tls fingerprint", "url", targetURL)
		return c.utlsClient
	}

	if len(c.globalProxies) > 0 {
		return c.proxyClient(c.globalProxies[0], false)
	}

	return c.defaultClient
}

// proxyClient returns a cached client for proxyURL, creating it on first use.
// An empty proxyURL yields a direct client.
func (c *Client) proxyClient(proxyURL string, disableSSL bool) *http.Client {
	key := proxyURL
	if disableSSL {
		key += "|insecure"
	}

	c.mu.RLock()
	client, ok := c.proxyClients[key]
	c.mu.RUnlock()
	if ok {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.proxyClients[key]; ok {
		return client
	}

	client = c.newProxyClient(proxyURL, disableSSL)
	c.proxyClients[key] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "disable_ssl", disableSSL)
	return client
}

func (c *Client) newProxyClient(proxyURL string, disableSSL bool) *http.Client {
	transport := newTransport()
	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if proxyURL == "" {
		return &http.Client{Transport: transport}
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("invalid proxy url", "proxy", proxyURL, "error", err)
		return c.defaultClient
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		d, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create socks5 dialer", "error", err)
			return c.defaultClient
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsed.Scheme)
		return c.defaultClient
	}

	return &http.Client{Transport: transport}
}

// utlsRoundTripper dials with a Chrome 120 ClientHello and speaks HTTP/2 or
// HTTP/1.1 depending on ALPN. Each request uses its own connection.
type utlsRoundTripper struct {
	h2 *http2.Transport
}

func newUTLSRoundTripper() *utlsRoundTripper {
	return &utlsRoundTripper{h2: &http2.Transport{}}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	conn, err := dialer.DialContext(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	uconn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloChrome_120)
	if err := uconn.HandshakeContext(req.Context()); err != nil {
		conn.Close()
		return nil, err
	}

	if uconn.ConnectionState().NegotiatedProtocol == "h2" {
		cc, err := t.h2.NewClientConn(uconn)
		if err != nil {
			uconn.Close()
			return nil, err
		}
		resp, err := cc.RoundTrip(req)
		if err != nil {
			cc.Close()
			return nil, err
		}
		resp.Body = &closeWith{ReadCloser: resp.Body, closer: cc}
		return resp, nil
	}

	if err := req.Write(uconn); err != nil {
		uconn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(uconn), req)
	if err != nil {
		uconn.Close()
		return nil, err
	}
	resp.Body = &closeWith{ReadCloser: resp.Body, closer: uconn}
	return resp, nil
}

// closeWith closes an underlying connection together with the body.
type closeWith struct {
	io.ReadCloser
	closer io.Closer
}

func (c *closeWith) Close() error {
	c.ReadCloser.Close()
	return c.closer.Close()
}
