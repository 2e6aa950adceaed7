package server

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		wantN     int
		wantErr   bool
		wantPath  string
		wantQuery string
		wantBody  string
	}{
		{
			name:     "post_with_body",
			raw:      "POST /payments HTTP/1.1\r\nHost: x\r\nContent-Length: 4\r\n\r\nabcd",
			wantN:    59,
			wantPath: "/payments",
			wantBody: "abcd",
		},
		{
			name:      "get_with_query",
			raw:       "GET /payments-summary?from=a&to=b HTTP/1.1\r\n\r\n",
			wantN:     46,
			wantPath:  "/payments-summary",
			wantQuery: "from=a&to=b",
		},
		{
			name:     "lowercase_header",
			raw:      "POST /p HTTP/1.1\r\ncontent-length: 2\r\n\r\nok",
			wantN:    41,
			wantPath: "/p",
			wantBody: "ok",
		},
		{
			name:  "headers_incomplete",
			raw:   "POST /payments HTTP/1.1\r\nContent-Len",
			wantN: 0,
		},
		{
			name:  "body_incomplete",
			raw:   "POST /payments HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc",
			wantN: 0,
		},
		{
			name:    "bad_request_line",
			raw:     "garbage\r\n\r\n",
			wantErr: true,
		},
		{
			name:    "length_overflows",
			raw:     "POST /payments HTTP/1.1\r\nContent-Length: 9223372036854775807\r\n\r\n{}",
			wantErr: true,
		},
		{
			name:    "length_too_large",
			raw:     "POST /payments HTTP/1.1\r\nContent-Length: 1000000000\r\n\r\n{}",
			wantErr: true,
		},
		{
			name:    "bad_length",
			raw:     "POST / HTTP/1.1\r\nContent-Length: x\r\n\r\n",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, n, err := Parse([]byte(tc.raw))
			if tc.wantErr {
				require.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantN, n)
			if n == 0 {
				return
			}
			assert.Equal(t, tc.wantPath, string(req.Path))
			assert.Equal(t, tc.wantQuery, string(req.Query))
			assert.Equal(t, tc.wantBody, string(req.Body))
		})
	}
}

func TestParsePipelined(t *testing.T) {
	buf := []byte("POST /a HTTP/1.1\r\nContent-Length: 1\r\n\r\nxGET /b HTTP/1.1\r\n\r\n")

	req, n, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "/a", string(req.Path))
	assert.Equal(t, "x", string(req.Body))

	req, m, err := Parse(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, "GET", string(req.Method))
	assert.Equal(t, "/b", string(req.Path))
	assert.Equal(t, len(buf), n+m)
}

func TestParseAcceptsMaxBody(t *testing.T) {
	head := "POST /payments HTTP/1.1\r\nContent-Length: " + strconv.Itoa(MaxBodySize) + "\r\n\r\n"
	buf := append([]byte(head), make([]byte, MaxBodySize)...)

	req, n, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Len(t, req.Body, MaxBodySize)
}

func TestParseRejectsEndlessHeaders(t *testing.T) {
	buf := append([]byte("GET / HTTP/1.1\r\nX-Pad: "), bytes.Repeat([]byte("a"), MaxHeaderSize)...)
	_, _, err := Parse(buf)
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestJSON(t *testing.T) {
	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 2\r\n\r\n{}",
		string(JSON([]byte("{}"))),
	)
}
