// Package request parses raw HTTP/1.1 request bytes into an immutable Request.
package request

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"webrs/internal/errors"
)

// Method is one of the supported request methods.
type Method string

const (
	GET     Method = "GET"
	POST    Method = "POST"
	OPTIONS Method = "OPTIONS"
)

// Methods lists the supported methods in the order advertised by OPTIONS.
var Methods = []Method{GET, POST, OPTIONS}

// ParseMethod matches s against the supported methods. Matching is case-sensitive.
func ParseMethod(s string) (Method, bool) {
	for _, m := range Methods {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// HeaderTerminator separates the header block from the body.
var HeaderTerminator = []byte("\r\n\r\n")

// DefaultContentType is used when the request carries no content-type header.
const DefaultContentType = "text/plain"

// lastID is shared by every parse in the process. It wraps to zero after
// math.MaxUint64; IDs are only used to correlate diagnostics.
var lastID atomic.Uint64

func nextID() uint64 {
	return lastID.Add(1)
}

// Request is a parsed HTTP request. It is read-only after Parse returns.
type Request struct {
	id          uint64
	method      Method
	path        string
	version     string
	query       map[string]string
	headers     map[string]string
	contentType string
	body        []byte
}

// Parse turns one complete HTTP message into a Request.
//
// Errors are *errors.HTTPError values carrying MalformedFraming,
// MalformedRequestLine or UnsupportedMethod.
func Parse(raw []byte) (*Request, error) {
	idx := bytes.Index(raw, HeaderTerminator)
	if idx < 0 {
		return nil, errors.New(errors.MalformedFraming, fmt.Errorf("no header terminator in %d bytes", len(raw)))
	}
	head := raw[:idx]
	body := raw[idx+len(HeaderTerminator):]

	if !utf8.Valid(head) {
		head = bytes.ToValidUTF8(head, []byte("�"))
	}
	lines := strings.Split(string(head), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, errors.New(errors.MalformedFraming, fmt.Errorf("empty header block"))
	}

	tokens := strings.Split(strings.TrimRight(lines[0], "\r"), " ")
	if len(tokens) < 2 {
		return nil, errors.New(errors.MalformedRequestLine, fmt.Errorf("request line %q", lines[0]))
	}

	method, ok := ParseMethod(tokens[0])
	if !ok {
		return nil, errors.New(errors.UnsupportedMethod, fmt.Errorf("method %q", tokens[0]))
	}

	path, rawQuery, _ := strings.Cut(tokens[1], "?")
	if !strings.HasPrefix(path, "/") {
		return nil, errors.New(errors.MalformedRequestLine, fmt.Errorf("target %q", tokens[1]))
	}

	version := ""
	if len(tokens) > 2 {
		version = strings.Join(tokens[2:], " ")
	}

	headers := parseHeaders(lines[1:])
	contentType := DefaultContentType
	if ct, ok := headers["content-type"]; ok {
		contentType = ct
	}

	b := make([]byte, len(body))
	copy(b, body)

	return &Request{
		id:          nextID(),
		method:      method,
		path:        path,
		version:     version,
		query:       parseQuery(rawQuery),
		headers:     headers,
		contentType: contentType,
		body:        b,
	}, nil
}

// parseQuery splits on '&' then on the first '='. Keys and values are kept
// verbatim, pairs without '=' are dropped and the last occurrence of a key wins.
func parseQuery(raw string) map[string]string {
	q := make(map[string]string)
	if raw == "" {
		return q
	}
	for _, pair := range strings.Split(raw, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		q[k] = v
	}
	return q
}

// parseHeaders splits each line on the first ": ". Names are lower-cased so a
// later line overrides an earlier one that differs only in case.
func parseHeaders(lines []string) map[string]string {
	h := make(map[string]string, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		h[name] = strings.TrimSpace(value)
	}
	return h
}

// ID returns the process-unique identifier assigned at parse time.
func (r *Request) ID() uint64 { return r.id }

// Method returns the request method.
func (r *Request) Method() Method { return r.method }

// Path returns the request path without the query string.
func (r *Request) Path() string { return r.path }

// Version returns everything after the target on the request line, unvalidated.
func (r *Request) Version() string { return r.version }

// ContentType returns the content-type header or DefaultContentType.
func (r *Request) ContentType() string { return r.contentType }

// Header looks up a header case-insensitively.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.headers[strings.ToLower(name)]
	return v, ok
}

// Headers returns a copy of the header map keyed by lower-cased name.
func (r *Request) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// Param returns a query parameter.
func (r *Request) Param(key string) (string, bool) {
	v, ok := r.query[key]
	return v, ok
}

// Query returns a copy of the query parameters.
func (r *Request) Query() map[string]string {
	out := make(map[string]string, len(r.query))
	for k, v := range r.query {
		out[k] = v
	}
	return out
}

// Body returns a copy of the body bytes.
func (r *Request) Body() []byte {
	out := make([]byte, len(r.body))
	copy(out, r.body)
	return out
}

// BodyLen returns the body length without copying it.
func (r *Request) BodyLen() int { return len(r.body) }

// KeepAlive reports whether the client asked to keep the connection open.
func (r *Request) KeepAlive() bool {
	c, ok := r.headers["connection"]
	return ok && strings.EqualFold(strings.TrimSpace(c), "keep-alive")
}

// String renders the request for trace logging.
func (r *Request) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s HTTP/1.1\n", r.method, r.path)
	names := make([]string, 0, len(r.headers))
	for k := range r.headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&sb, "%s: %s\n", k, r.headers[k])
	}
	sb.WriteString("\n")
	if utf8.Valid(r.body) {
		sb.Write(r.body)
	} else {
		sb.WriteString("[Not utf8]")
	}
	return sb.String()
}
