package rtsp

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_parseResponseLine(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert := assert.New(t)

		proto, status, code, ok := parseResponseLine("RTSP/1.0 200 OK")
		assert.Equal("RTSP/1.0", proto)
		assert.Equal("200 OK", status)
		assert.Equal(200, code)
		assert.True(ok)
	})

	t.Run("valid without reason", func(t *testing.T) {
		assert := assert.New(t)

		proto, status, code, ok := parseResponseLine("RTSP/1.0 200")
		assert.Equal("RTSP/1.0", proto)
		assert.Equal("200", status)
		assert.Equal(200, code)
		assert.True(ok)
	})

	t.Run("invalid code", func(t *testing.T) {
		_, _, _, ok := parseResponseLine("RTSP/1.0 OK")
		assert.False(t, ok)
	})
}

func TestResponse_Session(t *testing.T) {
	type fields struct {
		name     string
		header   http.Header
		expected string
		timeout  time.Duration
	}

	tests := []fields{
		{
			name: "OK",
			header: http.Header{
				"Session": []string{"12345678"},
			},
			expected: "12345678",
		},
		{
			name:     "No session",
			header:   http.Header{},
			expected: "",
		},
		{
			name: "OK with spaces",
			header: http.Header{
				"Session": []string{" 12345678 "},
			},
			expected: "12345678",
		},
		{
			name: "with timeout",
			header: http.Header{
				"Session": []string{" 12345678 ; timeout=999"},
			},
			expected: "12345678",
			timeout:  999 * time.Second,
		},
		{
			name: "invalid timeout",
			header: http.Header{
				"Session": []string{"12345678;timeout=abc"},
			},
			expected: "12345678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)

			r := &Response{
				StatusCode: 200,
				Header:     tt.header,
			}

			id, timeout := r.Session()
			assert.Equal(tt.expected, id)
			assert.Equal(tt.timeout, timeout)
		})
	}
}

func TestResponse_CSeq(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(3, (&Response{Header: http.Header{"Cseq": []string{"3"}}}).CSeq())
	assert.Equal(-1, (&Response{Header: http.Header{}}).CSeq())
}

func TestReadResponse(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	data := strings.Join([]string{
		"$\x00\x00\x04abcd",
		"RTSP/1.0 200 OK\r\n",
		"CSeq: 2\r\n",
		"Content-Length: 5\r\n",
		"\r\n",
		"v=0\r\n",
	}, "")

	reader := bufio.NewReader(strings.NewReader(data))

	require.NoError(skipInterleaved(reader))

	response, err := ReadResponse(reader)
	require.NoError(err)
	require.NoError(response.ReadBody(reader))

	assert.Equal(200, response.StatusCode)
	assert.Equal(2, response.CSeq())
	assert.Equal([]byte("v=0\r\n"), response.Body)
}

func TestResponse_ReadBody(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		r := &Response{Header: http.Header{"Content-Length": []string{"1000000"}}}
		assert.Error(t, r.ReadBody(bufio.NewReader(strings.NewReader(""))))
	})

	t.Run("truncated", func(t *testing.T) {
		r := &Response{Header: http.Header{"Content-Length": []string{"10"}}}
		assert.Error(t, r.ReadBody(bufio.NewReader(strings.NewReader("abc"))))
	})
}
