package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Method Definitions
const (
	MethodDescribe     = "DESCRIBE"
	MethodGetParameter = "GET_PARAMETER"
	MethodOptions      = "OPTIONS"
	MethodPlay         = "PLAY"
	MethodSetup        = "SETUP"
	MethodTeardown     = "TEARDOWN"
)

type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
}

func parseRequestLine(line string) (method, requestURI, proto string, ok bool) {
	method, line, ok = strings.Cut(line, " ")
	if !ok {
		return
	}

	requestURI, proto, _ = strings.Cut(line, " ")

	return
}

// ReadRequest reads request from the client.
func ReadRequest(r *bufio.Reader) (request *Request, err error) {
	tp := textproto.NewReader(r)

	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	var line string
	line, err = tp.ReadLine()
	if err != nil {
		return nil, err
	}

	method, requestURI, _, ok := parseRequestLine(line)
	if !ok {
		return nil, fmt.Errorf("invalid request line %q", line)
	}

	requestURL, err := url.Parse(requestURI)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %s", err)
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}

	request = &Request{
		Method: method,
		URL:    requestURL,
		Header: http.Header(mimeHeader),
	}

	return request, nil
}

// requestURI returns the URL without credentials.
func requestURI(u *url.URL) string {
	clean := *u
	clean.User = nil
	return clean.String()
}

// writeRequest sends RTSP/1.0 request to the server and returns its CSeq.
// Safe for concurrent use.
func (c *Client) writeRequest(request *Request) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.bw == nil {
		return 0, ErrClientClosed
	}

	uri := requestURI(request.URL)
	c.cseq += 1

	var b bytes.Buffer

	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", request.Method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", c.cseq)

	if c.UserAgent != "" {
		fmt.Fprintf(&b, "User-Agent: %s\r\n", c.UserAgent)
	}

	if c.session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", c.session)
	}

	if c.auth != nil {
		if h := c.auth.Header(request.Method, uri); h != "" {
			fmt.Fprintf(&b, "Authorization: %s\r\n", h)
		}
	}

	if request.Header != nil {
		if err := request.Header.Write(&b); err != nil {
			return 0, err
		}
	}

	b.WriteString("\r\n")

	if _, err := c.bw.Write(b.Bytes()); err != nil {
		return 0, err
	}

	return c.cseq, c.bw.Flush()
}
