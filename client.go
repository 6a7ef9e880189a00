package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrClientClosed    = errors.New("client closed")
	ErrResponseTimeout = errors.New("response timeout")
)

const (
	defaultTimeout        = 5 * time.Second
	defaultSessionTimeout = 60 * time.Second
	defaultPort           = "554"
)

// Real Time Streaming Protocol (RTSP)
// https://datatracker.ietf.org/doc/html/rfc2326
//
// Client is the control connection of one session. Requests are issued one
// at a time; Teardown and KeepAlive do not wait for the response and may be
// sent while another request is in flight.
type Client struct {
	URL            *url.URL
	UserAgent      string
	Transport      TransportMode
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger

	// guards everything below except the reader
	mu             sync.Mutex
	conn           net.Conn
	bw             *bufio.Writer
	cseq           int
	session        string
	sessionTimeout time.Duration
	auth           Auth
	transport      transport
	setups         map[int]string
	closed         bool

	// used by one request at a time, then by the transport
	br *bufio.Reader
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.Default()
}

func (c *Client) netConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	return c.conn
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultTimeout
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultTimeout
	}

	host := c.URL.Host
	if c.URL.Port() == "" {
		host = net.JoinHostPort(c.URL.Hostname(), defaultPort)
	}

	dialer := &net.Dialer{
		Timeout: c.ConnectTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		conn.Close()
		return ErrClientClosed
	}

	c.conn = conn
	c.br = bufio.NewReader(conn)
	c.bw = bufio.NewWriter(conn)
	c.setups = make(map[int]string)

	if c.Transport == TransportUDP {
		c.transport = newTransportUDP(c.logger())
	} else {
		c.transport = newTransportTCP(c.br, c.logger())
	}

	return nil
}

func (c *Client) readResponse(cseq int) (*Response, error) {
	for {
		if err := skipInterleaved(c.br); err != nil {
			return nil, err
		}

		response, err := ReadResponse(c.br)
		if err != nil {
			return nil, err
		}

		if err := response.ReadBody(c.br); err != nil {
			return nil, err
		}

		// late response to a request that was not waited for
		if v := response.CSeq(); v != -1 && v < cseq {
			continue
		}

		return response, nil
	}
}

func (c *Client) do(ctx context.Context, request *Request) (response *Response, err error) {
	conn := c.netConn()
	if conn == nil {
		return nil, ErrClientClosed
	}

	finished := make(chan struct{})
	exited := make(chan struct{})
	failed := make(chan error, 1)

	defer func() {
		close(finished)
		<-exited

		select {
		case e := <-failed:
			// socket closed by the watcher
			response, err = nil, e
		default:
		}
	}()

	go func() {
		defer close(exited)

		// wait for context cancel or timeout
		timeout := time.NewTimer(c.RequestTimeout)
		defer timeout.Stop()

		select {
		case <-finished:
			// func is finished. do nothing
		case <-ctx.Done():
			// context is canceled. close socket to break IO
			failed <- ctx.Err()
			conn.Close()
		case <-timeout.C:
			// timeout. close socket to break IO
			failed <- ErrResponseTimeout
			conn.Close()
		}
	}()

	attempts := 0

	for {
		cseq, err := c.writeRequest(request)
		if err != nil {
			return nil, err
		}

		response, err = c.readResponse(cseq)
		if err != nil {
			return nil, err
		}

		if response.StatusCode == http.StatusUnauthorized && attempts == 0 {
			attempts += 1

			if auth := NewAuth(c.URL, response.Header.Values("WWW-Authenticate")...); auth != nil {
				c.mu.Lock()
				c.auth = auth
				c.mu.Unlock()
				continue
			}
		}

		break
	}

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s", request.Method, response.Status)
	}

	return response, nil
}

// Describe connects to the server and requests the session description.
// Returns the description and the base URL for relative control URLs.
func (c *Client) Describe(ctx context.Context) ([]byte, *url.URL, error) {
	if err := c.dial(ctx); err != nil {
		return nil, nil, err
	}

	request := &Request{
		Method: MethodDescribe,
		URL:    c.URL,
		Header: http.Header{
			"Accept": []string{SdpMimeType},
		},
	}

	response, err := c.do(ctx, request)
	if err != nil {
		return nil, nil, err
	}

	base := c.URL
	if v := response.Header.Get("content-base"); v != "" {
		if base, err = url.Parse(v); err != nil {
			return nil, nil, fmt.Errorf("invalid content-base: %w", err)
		}
	}

	return response.Body, base, nil
}

// Initiate prepares the transport for the substream.
func (c *Client) Initiate(sub *Substream) (Source, error) {
	if !strings.HasPrefix(sub.Protocol, "RTP/AVP") {
		return nil, fmt.Errorf("unsupported protocol %q", sub.Protocol)
	}

	if sub.Control == nil {
		return nil, errors.New("no control url")
	}

	c.mu.Lock()
	tr := c.transport
	closed := c.closed
	c.mu.Unlock()

	if closed || tr == nil {
		return nil, ErrClientClosed
	}

	src := newSource(sub.Index, c.logger())

	header, err := tr.setup(sub, src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.setups[sub.Index] = header
	c.mu.Unlock()

	return src, nil
}

// Setup sends request to setup the substream delivery
func (c *Client) Setup(ctx context.Context, sub *Substream) error {
	c.mu.Lock()
	header, ok := c.setups[sub.Index]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("substream %d is not initiated", sub.Index)
	}

	request := &Request{
		Method: MethodSetup,
		URL:    sub.Control,
		Header: http.Header{
			"Transport": []string{header},
		},
	}

	response, err := c.do(ctx, request)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.session == "" {
		c.session, c.sessionTimeout = response.Session()
	}
	c.mu.Unlock()

	return nil
}

func controlURL(desc *SessionDescription, fallback *url.URL) *url.URL {
	if desc != nil && desc.Control != nil {
		return desc.Control
	}

	return fallback
}

// Play sends request to start the stream delivery and starts the transport.
func (c *Client) Play(ctx context.Context, desc *SessionDescription) error {
	request := &Request{
		Method: MethodPlay,
		URL:    controlURL(desc, c.URL),
		Header: http.Header{
			"Range": []string{desc.PlayRange()},
		},
	}

	if _, err := c.do(ctx, request); err != nil {
		return err
	}

	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()

	tr.play()

	if c.Transport == TransportUDP {
		go c.drain()
	}

	return nil
}

// drain reads responses to requests sent while playing over UDP.
func (c *Client) drain() {
	for {
		response, err := ReadResponse(c.br)
		if err == nil {
			err = response.ReadBody(c.br)
		}

		if err != nil {
			c.logger().Debug("control connection finished", "err", err)
			return
		}
	}
}

// Teardown sends request to stop the stream delivery.
// The response is not waited for.
func (c *Client) Teardown(desc *SessionDescription) error {
	_, err := c.writeRequest(&Request{
		Method: MethodTeardown,
		URL:    controlURL(desc, c.URL),
	})

	return err
}

// KeepAlive sends request to keep the session alive.
// The response is not waited for.
func (c *Client) KeepAlive(desc *SessionDescription) error {
	_, err := c.writeRequest(&Request{
		Method: MethodGetParameter,
		URL:    controlURL(desc, c.URL),
	})

	return err
}

// SessionTimeout returns the timeout announced by the server with SETUP.
func (c *Client) SessionTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionTimeout > 0 {
		return c.sessionTimeout
	}

	return defaultSessionTimeout
}

// Close closes the connection and all transports.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	tr := c.transport
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	if tr != nil {
		tr.close()
	}

	return err
}
