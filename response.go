package rtsp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const maxBodySize = 64 * 1024

type Response struct {
	Proto      string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func parseResponseLine(line string) (proto, status string, code int, ok bool) {
	proto, status, ok = strings.Cut(line, " ")
	if !ok {
		return
	}

	status = strings.TrimSpace(status)
	statusCode, _, _ := strings.Cut(status, " ")

	var err error
	code, err = strconv.Atoi(statusCode)
	ok = (err == nil) && (code >= 100) && (code <= 999)

	return
}

// ReadResponse reads a response from the server.
func ReadResponse(reader *bufio.Reader) (response *Response, err error) {
	tp := textproto.NewReader(reader)

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

	proto, status, code, ok := parseResponseLine(line)
	if !ok {
		return nil, fmt.Errorf("invalid response line %q", line)
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}

	response = &Response{
		Proto:      proto,
		StatusCode: code,
		Status:     status,
		Header:     http.Header(mimeHeader),
	}

	return response, nil
}

// ReadBody reads the body after response.
func (r *Response) ReadBody(reader *bufio.Reader) error {
	v := r.Header.Get("content-length")
	if v == "" {
		return nil
	}

	contentLength, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid content-length %q", v)
	}

	if contentLength == 0 {
		return nil
	}

	if contentLength > maxBodySize {
		return fmt.Errorf("content-length too large %d", contentLength)
	}

	r.Body = make([]byte, contentLength)
	if _, err = io.ReadFull(reader, r.Body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	return nil
}

// CSeq returns the sequence number of the response or -1.
func (r *Response) CSeq() int {
	if v, err := strconv.Atoi(strings.TrimSpace(r.Header.Get("CSeq"))); err == nil {
		return v
	}

	return -1
}

// Session returns the session identifier and the timeout announced with it.
// Session: 12345678;timeout=60
func (r *Response) Session() (id string, timeout time.Duration) {
	value := r.Header.Get("Session")
	if value == "" {
		return "", 0
	}

	id, params, _ := strings.Cut(value, ";")

	for params != "" {
		var param string
		param, params, _ = strings.Cut(params, ";")

		key, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "timeout") {
			continue
		}

		if seconds, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	return strings.TrimSpace(id), timeout
}

// skipInterleaved discards interleaved frames that precede a response.
func skipInterleaved(reader *bufio.Reader) error {
	header := make([]byte, interleavedHeaderSize)

	for {
		lead, err := reader.Peek(1)
		if err != nil {
			return err
		}

		if lead[0] != '$' {
			return nil
		}

		if _, err := io.ReadFull(reader, header); err != nil {
			return err
		}

		size := int(binary.BigEndian.Uint16(header[2:4]))
		if _, err := reader.Discard(size); err != nil {
			return err
		}
	}
}
