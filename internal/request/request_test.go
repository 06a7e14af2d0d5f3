package request

import (
	"bytes"
	"testing"

	"webrs/internal/errors"
)

func TestParse_Valid(t *testing.T) {
	raw := []byte("GET /test?name=value&foo=bar HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Test body")

	req, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if req.Method() != GET {
		t.Errorf("Method() = %s, want GET", req.Method())
	}
	if req.Path() != "/test" {
		t.Errorf("Path() = %q, want /test", req.Path())
	}
	if v, _ := req.Header("host"); v != "localhost" {
		t.Errorf("Header(host) = %q, want localhost", v)
	}
	if req.ContentType() != "text/plain" {
		t.Errorf("ContentType() = %q, want text/plain", req.ContentType())
	}
	if !bytes.Equal(req.Body(), []byte("Test body")) {
		t.Errorf("Body() = %q, want %q", req.Body(), "Test body")
	}
	if v, _ := req.Param("name"); v != "value" {
		t.Errorf("Param(name) = %q, want value", v)
	}
	if v, _ := req.Param("foo"); v != "bar" {
		t.Errorf("Param(foo) = %q, want bar", v)
	}
	if req.Version() != "HTTP/1.1" {
		t.Errorf("Version() = %q, want HTTP/1.1", req.Version())
	}
}

func TestParse_RoundTripsComponents(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		method Method
		path   string
		query  map[string]string
		body   string
	}{
		{
			name:   "post with body",
			raw:    "POST /api/kv?key=a HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
			method: POST,
			path:   "/api/kv",
			query:  map[string]string{"key": "a"},
			body:   "hello",
		},
		{
			name:   "options without query",
			raw:    "OPTIONS /anything HTTP/1.1\r\n\r\n",
			method: OPTIONS,
			path:   "/anything",
			query:  map[string]string{},
		},
		{
			name:   "last duplicate query key wins",
			raw:    "GET /?a=1&a=2&b HTTP/1.1\r\n\r\n",
			method: GET,
			path:   "/",
			query:  map[string]string{"a": "2"},
		},
		{
			name:   "value with equals sign",
			raw:    "GET /x?expr=a=b HTTP/1.1\r\n\r\n",
			method: GET,
			path:   "/x",
			query:  map[string]string{"expr": "a=b"},
		},
		{
			name:   "binary body kept verbatim",
			raw:    "POST /upload HTTP/1.1\r\n\r\n\x00\x01\r\n\r\n\xff",
			method: POST,
			path:   "/upload",
			query:  map[string]string{},
			body:   "\x00\x01\r\n\r\n\xff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if req.Method() != tt.method {
				t.Errorf("Method() = %s, want %s", req.Method(), tt.method)
			}
			if req.Path() != tt.path {
				t.Errorf("Path() = %q, want %q", req.Path(), tt.path)
			}
			q := req.Query()
			if len(q) != len(tt.query) {
				t.Errorf("Query() = %v, want %v", q, tt.query)
			}
			for k, want := range tt.query {
				if q[k] != want {
					t.Errorf("Query()[%q] = %q, want %q", k, q[k], want)
				}
			}
			if string(req.Body()) != tt.body {
				t.Errorf("Body() = %q, want %q", req.Body(), tt.body)
			}
		})
	}
}

func TestParse_HeaderNamesAreCaseFolded(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nX-Trace: one\r\nx-trace: two\r\nAccept-Encoding: gzip\r\nbroken line\r\n\r\n")

	req, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	h := req.Headers()
	if len(h) != 2 {
		t.Fatalf("Headers() = %v, want 2 entries", h)
	}
	if h["x-trace"] != "two" {
		t.Errorf("x-trace = %q, want two", h["x-trace"])
	}
	if v, ok := req.Header("ACCEPT-ENCODING"); !ok || v != "gzip" {
		t.Errorf("Header(ACCEPT-ENCODING) = %q, %v", v, ok)
	}
	for name := range h {
		if name != "x-trace" && name != "accept-encoding" {
			t.Errorf("unexpected header %q", name)
		}
	}
}

func TestParse_DefaultContentType(t *testing.T) {
	req, err := Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if req.ContentType() != DefaultContentType {
		t.Errorf("ContentType() = %q, want %q", req.ContentType(), DefaultContentType)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		code   errors.ErrorCode
		status int
		desc   string
	}{
		{"unsupported method", "INVALID /test HTTP/1.1\r\n\r\n", errors.UnsupportedMethod, 501, "Not Implemented"},
		{"lower case method", "get /test HTTP/1.1\r\n\r\n", errors.UnsupportedMethod, 501, "Not Implemented"},
		{"no terminator", "GET /test HTTP/1.1\r\nHost: x\r\n", errors.MalformedFraming, 400, "Bad Request"},
		{"empty head", "\r\n\r\n", errors.MalformedFraming, 400, "Bad Request"},
		{"single token", "GET\r\n\r\n", errors.MalformedRequestLine, 400, "Bad Request"},
		{"relative target", "GET test HTTP/1.1\r\n\r\n", errors.MalformedRequestLine, 400, "Bad Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			var he *errors.HTTPError
			if !asHTTPError(err, &he) {
				t.Fatalf("error %v is not an HTTPError", err)
			}
			if he.Code != tt.code {
				t.Errorf("Code = %s, want %s", he.Code, tt.code)
			}
			if he.Status != tt.status {
				t.Errorf("Status = %d, want %d", he.Status, tt.status)
			}
			if he.Description != tt.desc {
				t.Errorf("Description = %q, want %q", he.Description, tt.desc)
			}
		})
	}
}

func asHTTPError(err error, target **errors.HTTPError) bool {
	he, ok := err.(*errors.HTTPError)
	if ok {
		*target = he
	}
	return ok
}

func TestParse_IDsIncrease(t *testing.T) {
	a, err := Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if b.ID() <= a.ID() {
		t.Errorf("IDs not increasing: %d then %d", a.ID(), b.ID())
	}
}

func TestRequest_IsReadOnly(t *testing.T) {
	req, err := Parse([]byte("POST /p?k=v HTTP/1.1\r\nA: b\r\n\r\nbody"))
	if err != nil {
		t.Fatal(err)
	}

	req.Headers()["a"] = "changed"
	req.Query()["k"] = "changed"
	req.Body()[0] = 'X'

	if v, _ := req.Header("a"); v != "b" {
		t.Errorf("header mutated through copy: %q", v)
	}
	if v, _ := req.Param("k"); v != "v" {
		t.Errorf("query mutated through copy: %q", v)
	}
	if string(req.Body()) != "body" {
		t.Errorf("body mutated through copy: %q", req.Body())
	}
}

func TestRequest_KeepAlive(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"Connection: close\r\n", false},
		{"Connection: keep-alive\r\n", true},
		{"connection: Keep-Alive\r\n", true},
		{"Connection: upgrade\r\n", false},
	}

	for _, tt := range tests {
		req, err := Parse([]byte("GET / HTTP/1.1\r\n" + tt.header + "\r\n"))
		if err != nil {
			t.Fatal(err)
		}
		if got := req.KeepAlive(); got != tt.want {
			t.Errorf("KeepAlive() with %q = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestFraming(t *testing.T) {
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 4\r\nConnection: keep-alive\r\n\r\nab")

	end := HeaderEnd(buf)
	if end != len(buf)-2 {
		t.Errorf("HeaderEnd() = %d, want %d", end, len(buf)-2)
	}
	if HeaderEnd([]byte("GET / HTTP/1.1\r\n")) != -1 {
		t.Error("HeaderEnd() on partial head should be -1")
	}

	n, ok := ContentLength(buf)
	if !ok || n != 4 {
		t.Errorf("ContentLength() = %d, %v, want 4, true", n, ok)
	}
	if _, ok := ContentLength([]byte("GET / HTTP/1.1\r\nContent-Length: -3\r\n\r\n")); ok {
		t.Error("negative content-length should be rejected")
	}
	if v, ok := RawHeader(buf, "CONNECTION"); !ok || v != "keep-alive" {
		t.Errorf("RawHeader(CONNECTION) = %q, %v", v, ok)
	}
}

func TestParseQuery_KeepsValuesVerbatim(t *testing.T) {
	q := parseQuery("a= b&c =d&e=f=g&h")

	want := map[string]string{"a": " b", "c ": "d", "e": "f=g"}
	if len(q) != len(want) {
		t.Fatalf("parseQuery() = %v, want %v", q, want)
	}
	for k, v := range want {
		if got, ok := q[k]; !ok || got != v {
			t.Errorf("q[%q] = %q, %v; want %q", k, got, ok, v)
		}
	}
}
