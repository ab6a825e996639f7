package httpx

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout bounds an exchange when Options leave Timeout zero.
const DefaultTimeout = 5 * time.Second

// Options carries the per-request knobs recognized by the client.
type Options struct {
	// Timeout bounds the whole exchange; zero means DefaultTimeout and a
	// negative value disables the deadline.
	Timeout time.Duration
	// FollowRedirect is how many redirects may be chased; default none.
	FollowRedirect int
}

func (o Options) timeout() time.Duration {
	if o.Timeout == 0 {
		return DefaultTimeout
	}
	if o.Timeout < 0 {
		return 0
	}
	return o.Timeout
}

// RequestHandler is the pre-send hook: it may mutate the outgoing
// request after Host and Connection are set, before bytes are written.
type RequestHandler func(req *Request, opts *Options, host string)

// poolKey identifies one pool bucket. Scheme is part of the key so a
// plain and a TLS endpoint on the same address never share connections.
type poolKey struct {
	secure   bool
	hostport string
}

// Client issues HTTP/1.1 requests through per-host pools of reusable
// connections. A client without a TLS configuration rejects secure URLs.
type Client struct {
	mu     sync.Mutex
	pool   map[poolKey][]*ClientConn
	closed bool

	tlsConf  *tls.Config
	onSend   RequestHandler
	dialer   net.Dialer
	resolver *net.Resolver
	logger   *slog.Logger
}

// NewClient returns a plain-HTTP client.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		pool:     make(map[poolKey][]*ClientConn),
		resolver: net.DefaultResolver,
		logger:   logger,
	}
}

// NewSecureClient returns a client that can also dial https/wss
// endpoints, wrapping streams with the given TLS configuration.
func NewSecureClient(tlsConf *tls.Config, logger *slog.Logger) *Client {
	c := NewClient(logger)
	c.tlsConf = tlsConf
	return c
}

// OnSend installs the pre-send hook, invoked exactly once per outgoing
// request.
func (c *Client) OnSend(fn RequestHandler) { c.onSend = fn }

// CreateRequest returns an empty request with the method preset.
func (c *Client) CreateRequest(method Method) *Request {
	return NewRequest(method)
}

// Get issues a GET to the given URL.
func (c *Client) Get(ctx context.Context, rawurl string, opts Options) (*Response, error) {
	return c.Request(ctx, MethodGet, rawurl, nil, opts)
}

// Post issues a POST with the given body.
func (c *Client) Post(ctx context.Context, rawurl, contentType string, body []byte, opts Options) (*Response, error) {
	req := c.CreateRequest(MethodPost)
	if contentType != "" {
		req.Header().SetField(fieldContentType, contentType)
	}
	req.SetBody(body)
	return c.Do(ctx, req, rawurl, opts)
}

// Request builds a request for the method and dispatches it.
func (c *Client) Request(ctx context.Context, method Method, rawurl string, body []byte, opts Options) (*Response, error) {
	req := c.CreateRequest(method)
	if len(body) > 0 {
		req.SetBody(body)
	}
	return c.Do(ctx, req, rawurl, opts)
}

// DoHost sends req to an explicit "host:port", bypassing URL dispatch.
// The request target comes from the request's own URL when set.
func (c *Client) DoHost(ctx context.Context, req *Request, hostport string, secure bool, opts Options) (*Response, error) {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	target := "/"
	if req.URL != nil {
		target = RequestTarget(req.URL)
	}
	return c.Do(ctx, req, scheme+"://"+hostport+target, opts)
}

// Do sends req to the URL and returns the terminal response. Redirects
// are followed while opts.FollowRedirect allows, re-dispatching through
// the pool so cross-host and cross-scheme hops get their own
// connections. The error, when non-nil, carries exactly one Kind, except
// for a secure URL on a client without TLS, which returns the bare
// ErrTLSUnsupported (ErrKind reports KindNone for it).
func (c *Client) Do(ctx context.Context, req *Request, rawurl string, opts Options) (*Response, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, newError(KindInvalid, "parse url", rawurl, err)
	}

	redirects := opts.FollowRedirect
	for {
		res, err := c.exchange(ctx, req, u, &opts)
		if err != nil {
			return nil, err
		}

		loc := res.Header().Value(fieldLocation)
		if !IsRedirect(res.Status) || redirects <= 0 || loc == "" {
			return res, nil
		}
		next, err := ResolveLocation(u, loc)
		if err != nil {
			return nil, newError(KindInvalid, "resolve redirect", loc, err)
		}
		redirects--
		u = next
		// The request is reissued against the new origin; Host must be
		// recomputed from the rewritten URI.
		req.Header().Erase(fieldHost)
	}
}

// exchange runs a single request/response round over one pooled
// connection.
func (c *Client) exchange(ctx context.Context, req *Request, u *url.URL, opts *Options) (*Response, error) {
	secure := SchemeIsSecure(u)
	if secure && c.tlsConf == nil {
		return nil, ErrTLSUnsupported
	}

	addr, err := c.resolve(ctx, u)
	if err != nil {
		return nil, err
	}
	key := poolKey{secure: secure, hostport: addr}

	cc, err := c.getConnection(ctx, key, u.Hostname())
	if err != nil {
		return nil, err
	}

	req.URL = u
	req.Header().SetField(fieldHost, u.Host)
	req.Header().SetField(fieldConnection, connectionKeepAlive)
	if c.onSend != nil {
		c.onSend(req, opts, u.Host)
	}

	res, err := cc.do(req, opts.timeout())

	c.mu.Lock()
	closing := c.closed
	cc.busy = false
	if err != nil || !cc.available() {
		c.removeLocked(key, cc)
	}
	c.mu.Unlock()

	if err != nil {
		if closing {
			return nil, newError(KindClosing, "exchange", addr, err)
		}
		return nil, err
	}
	return res, nil
}

// resolve maps the URL host to a dialable "ip:port". Literal addresses
// skip the lookup.
func (c *Client) resolve(ctx context.Context, u *url.URL) (string, error) {
	host := u.Hostname()
	port := DefaultPort(u)
	if ip := net.ParseIP(host); ip != nil {
		return net.JoinHostPort(host, port), nil
	}
	addrs, err := c.resolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "", newError(KindResolveHost, "resolve host", host, err)
	}
	return net.JoinHostPort(addrs[0], port), nil
}

// getConnection returns the first available pooled connection for the
// key, dialing a new one when none is free. The returned connection is
// marked busy.
func (c *Client) getConnection(ctx context.Context, key poolKey, serverName string) (*ClientConn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, newError(KindClosing, "get connection", key.hostport, nil)
	}
	for _, cc := range c.pool[key] {
		if cc.available() {
			cc.busy = true
			c.mu.Unlock()
			return cc, nil
		}
	}
	c.mu.Unlock()

	stream, err := c.dial(ctx, key, serverName)
	if err != nil {
		return nil, err
	}
	cc := newClientConn(stream)
	cc.busy = true

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stream.Close()
		return nil, newError(KindClosing, "get connection", key.hostport, nil)
	}
	c.pool[key] = append(c.pool[key], cc)
	c.mu.Unlock()
	return cc, nil
}

func (c *Client) dial(ctx context.Context, key poolKey, serverName string) (net.Conn, error) {
	stream, err := c.dialer.DialContext(ctx, "tcp", key.hostport)
	if err != nil {
		return nil, newError(KindNoReply, "dial", key.hostport, err)
	}
	if !key.secure {
		return stream, nil
	}
	cfg := c.tlsConf.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	tc := tls.Client(stream, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		stream.Close()
		return nil, newError(KindNoReply, "tls handshake", key.hostport, err)
	}
	return tc, nil
}

// removeLocked drops cc from its pool bucket; the caller holds c.mu.
func (c *Client) removeLocked(key poolKey, cc *ClientConn) {
	conns := c.pool[key]
	for i, other := range conns {
		if other == cc {
			c.pool[key] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	cc.Shutdown()
}

// PoolSize reports how many connections the bucket for addr currently
// holds. Secure and plain buckets are counted separately.
func (c *Client) PoolSize(hostport string, secure bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pool[poolKey{secure: secure, hostport: hostport}])
}

// Close shuts every pooled connection; in-flight exchanges surface
// KindClosing.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, conns := range c.pool {
		for _, cc := range conns {
			cc.Shutdown()
		}
		delete(c.pool, key)
	}
}
