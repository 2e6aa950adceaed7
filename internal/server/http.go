// Package server holds the minimal HTTP/1.1 framing used by the gnet servers.
package server

import (
	"bytes"
	"errors"
	"strconv"
)

var (
	HTTP200OK         = []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	HTTP202Accepted   = []byte("HTTP/1.1 202 Accepted\r\nContent-Length: 0\r\n\r\n")
	HTTP204NoContent  = []byte("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n")
	HTTP400BadRequest = []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n")
	HTTP404NotFound   = []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	HTTP405NotAllowed = []byte("HTTP/1.1 405 Method Not Allowed\r\nContent-Length: 0\r\n\r\n")
	HTTP500Error      = []byte("HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n")
)

// Larger requests are rejected before the rest of them is buffered.
const (
	MaxHeaderSize = 8 << 10
	MaxBodySize   = 1 << 20
)

var ErrMalformedRequest = errors.New("malformed http request")

var (
	crlf           = []byte("\r\n")
	headerEnd      = []byte("\r\n\r\n")
	contentLength  = []byte("content-length")
	questionMark   = []byte("?")
	space          = []byte(" ")
	headerValueSep = []byte(":")
)

// Request points into the buffer it was parsed from; copy anything that must
// outlive the connection read.
type Request struct {
	Method []byte
	Path   []byte
	Query  []byte
	Body   []byte
}

// Parse reads one request from the head of buf. It returns the number of
// bytes consumed, or 0 with a nil error when buf does not yet hold a whole
// request.
func Parse(buf []byte) (Request, int, error) {
	var req Request

	end := bytes.Index(buf, headerEnd)
	if end == -1 {
		if len(buf) > MaxHeaderSize {
			return req, 0, ErrMalformedRequest
		}
		return req, 0, nil
	}

	lineEnd := bytes.Index(buf, crlf)
	parts := bytes.Split(buf[:lineEnd], space)
	if len(parts) != 3 {
		return req, 0, ErrMalformedRequest
	}
	req.Method = parts[0]
	req.Path, req.Query, _ = bytes.Cut(parts[1], questionMark)

	var headers []byte
	if lineEnd < end {
		headers = buf[lineEnd+len(crlf) : end]
	}

	length := 0
	for _, line := range bytes.Split(headers, crlf) {
		name, value, ok := bytes.Cut(line, headerValueSep)
		if !ok || !bytes.EqualFold(bytes.TrimSpace(name), contentLength) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 || n > MaxBodySize {
			return req, 0, ErrMalformedRequest
		}
		length = n
	}

	total := end + len(headerEnd) + length
	if len(buf) < total {
		return req, 0, nil
	}
	req.Body = buf[end+len(headerEnd) : total]
	return req, total, nil
}

// JSON builds a 200 response carrying body.
func JSON(body []byte) []byte {
	out := make([]byte, 0, 96+len(body))
	out = append(out, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: "...)
	out = strconv.AppendInt(out, int64(len(body)), 10)
	out = append(out, "\r\n\r\n"...)
	return append(out, body...)
}
